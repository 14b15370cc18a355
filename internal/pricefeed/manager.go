package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

// syntheticPriceUSD is the placeholder used when no price has ever been
// observed: fetch failed, memory is empty and the store has no history.
var syntheticPriceUSD = decimal.NewFromInt(50_000)

// OverrideSource supplies the optional admin override that takes
// precedence over fetched prices.
type OverrideSource interface {
	GetActiveOverride(ctx context.Context, symbol string) (*models.PriceOverride, error)
	QuoteFromOverride(ov *models.PriceOverride, fallback models.PriceQuote) models.PriceQuote
}

// TickHandler is invoked after each tick with the effective quote, once
// the quote has been stored and published. The price feed waits for it to
// return before starting the next tick.
type TickHandler func(ctx context.Context, q models.PriceQuote)

// Manager runs the periodic price ingestion loop: fetch, normalize,
// persist, compose with overrides, publish, then trigger matching. A
// failed tick degrades through the fallback chain; it never stops the
// scheduler.
type Manager struct {
	logger    *zap.Logger
	cfg       config.PriceSource
	client    SourceClient
	store     store.Store
	overrides OverrideSource
	bus       *events.Bus
	onTick    TickHandler
	now       func() time.Time

	mu        sync.RWMutex
	current   *models.PriceQuote
	ring      []models.PriceQuote
	running   bool
	lastTick  time.Time
	tickCount uint64
	failCount uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a price feed manager. The tick handler may be nil
// and can be set later, before Start.
func NewManager(logger *zap.Logger, cfg config.PriceSource, client SourceClient, st store.Store, ov OverrideSource, bus *events.Bus) *Manager {
	return &Manager{
		logger:    logger.Named("pricefeed"),
		cfg:       cfg,
		client:    client,
		store:     st,
		overrides: ov,
		bus:       bus,
		now:       time.Now,
	}
}

// SetTickHandler registers the post-tick hook (limit-order matching).
// Must be called before Start.
func (m *Manager) SetTickHandler(h TickHandler) {
	m.onTick = h
}

// Start begins periodic ticks at the given interval. The first tick runs
// immediately. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("Starting price feed", zap.Duration("interval", interval))

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Stopping price feed...")
				return
			case <-ticker.C:
				// Ticks are strictly serialized: the previous tick,
				// including matching, finished before this one starts.
				m.tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// GetCurrentPrice returns the latest effective quote. It never blocks;
// the boolean is false until the first tick completes.
func (m *Manager) GetCurrentPrice() (models.PriceQuote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return models.PriceQuote{}, false
	}
	return *m.current, true
}

// RecentQuotes returns the ring buffer contents, oldest first.
func (m *Manager) RecentQuotes() []models.PriceQuote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PriceQuote, len(m.ring))
	copy(out, m.ring)
	return out
}

// Subscribe registers a listener for effective quotes. If a quote already
// exists it is replayed immediately. The returned function unsubscribes.
func (m *Manager) Subscribe(cb func(models.PriceQuote)) func() {
	unsub := m.bus.Subscribe(types.EventPriceChanged, func(evt events.Event) {
		if q, ok := evt.Payload.(models.PriceQuote); ok {
			cb(q)
		}
	})
	if q, ok := m.GetCurrentPrice(); ok {
		cb(q)
	}
	return unsub
}

// Running reports whether the tick loop is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stats returns tick counters and the time of the last completed tick.
func (m *Manager) Stats() (ticks, failures uint64, lastTick time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickCount, m.failCount, m.lastTick
}

// tick runs one full ingestion cycle. Errors degrade the quote; they are
// never allowed to escape past the scheduler.
func (m *Manager) tick(ctx context.Context) {
	ov, err := m.overrides.GetActiveOverride(ctx, m.symbol())
	if err != nil {
		m.logger.Warn("Override lookup failed, proceeding without override", zap.Error(err))
		ov = nil
	}

	var quote models.PriceQuote
	switch {
	case ov != nil && ov.DisableAutoUpdates:
		// Fetch is skipped entirely, but publishing and matching still
		// run against the override price.
		quote = m.overrides.QuoteFromOverride(ov, m.lastQuote())
		m.logger.Debug("Auto updates disabled by override, skipping fetch",
			zap.Uint("override_id", ov.ID))
	default:
		fetched, err := m.fetchAndPersist(ctx)
		if err != nil {
			m.mu.Lock()
			m.failCount++
			m.mu.Unlock()
			fetched = m.fallbackQuote(ctx)
			m.logger.Warn("Price fetch failed, degraded quote in use",
				zap.String("source", string(fetched.Source)),
				zap.Error(err))
		}
		quote = fetched
		if ov != nil {
			// The override fully replaces the fetched price; the fetch
			// above was still persisted for history.
			quote = m.overrides.QuoteFromOverride(ov, fetched)
		}
	}

	m.setCurrent(quote)
	m.bus.Publish(types.EventPriceChanged, quote)

	if m.onTick != nil {
		m.onTick(ctx, quote)
	}
}

// fetchAndPersist calls the external source with a bounded timeout,
// normalizes the payload and appends the tick to the persisted history.
func (m *Manager) fetchAndPersist(ctx context.Context) (models.PriceQuote, error) {
	timeout := time.Duration(m.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := m.client.FetchTicker(fetchCtx)
	if err != nil {
		return models.PriceQuote{}, err
	}

	quote := m.normalize(payload)

	tick := quote.Tick()
	if err := m.store.InsertPriceTick(ctx, &tick); err != nil {
		// History persistence is best-effort; the live quote is still good.
		m.logger.Warn("Failed to persist price tick", zap.Error(err))
	}

	return quote, nil
}

// normalize converts the raw payload into a quote: local price via the
// configured fx rate, 24h high/low derived from the reported change.
func (m *Manager) normalize(p *TickerPayload) models.PriceQuote {
	now := m.now()
	price := decimal.NewFromFloat(*p.PriceUSD)
	fxRate := decimal.NewFromFloat(m.cfg.FxRate)
	if !fxRate.IsPositive() {
		fxRate = decimal.NewFromInt(1)
	}

	// The source reports a percentage change; turn it into the absolute
	// move and reconstruct the day's other extreme from it.
	changeAbs := price.Mul(decimal.NewFromFloat(p.Change24h)).Div(decimal.NewFromInt(100))
	prev := price.Sub(changeAbs)
	high, low := price, prev
	if prev.GreaterThan(price) {
		high, low = prev, price
	}

	return models.PriceQuote{
		Symbol:     m.symbol(),
		PriceUSD:   price,
		PriceLocal: price.Mul(fxRate),
		FxRate:     fxRate,
		Change24h:  changeAbs,
		Volume24h:  decimal.NewFromFloat(p.Volume24h),
		High24h:    high,
		Low24h:     low,
		Source:     types.SourceLive,
		ObservedAt: now,
		FetchedAt:  now,
	}
}

// fallbackQuote degrades in order: last in-memory quote, most recent
// persisted tick, synthetic placeholder. It always returns a quote.
func (m *Manager) fallbackQuote(ctx context.Context) models.PriceQuote {
	now := m.now()

	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()
	if current != nil {
		q := *current
		q.Source = types.SourceCache
		q.FetchedAt = now
		return q
	}

	if tick, err := m.store.LatestPriceTick(ctx, m.symbol()); err == nil {
		q := tick.Quote()
		q.Source = types.SourceCache
		q.FetchedAt = now
		return q
	}

	fxRate := decimal.NewFromFloat(m.cfg.FxRate)
	if !fxRate.IsPositive() {
		fxRate = decimal.NewFromInt(1)
	}
	return models.PriceQuote{
		Symbol:     m.symbol(),
		PriceUSD:   syntheticPriceUSD,
		PriceLocal: syntheticPriceUSD.Mul(fxRate),
		FxRate:     fxRate,
		Source:     types.SourceSynthetic,
		ObservedAt: now,
		FetchedAt:  now,
	}
}

func (m *Manager) setCurrent(q models.PriceQuote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &q
	m.lastTick = m.now()
	m.tickCount++

	ringSize := m.cfg.RingSize
	if ringSize <= 0 {
		ringSize = 100
	}
	m.ring = append(m.ring, q)
	if len(m.ring) > ringSize {
		m.ring = m.ring[len(m.ring)-ringSize:]
	}
}

func (m *Manager) lastQuote() models.PriceQuote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil {
		return *m.current
	}
	return models.PriceQuote{Symbol: m.symbol()}
}

func (m *Manager) symbol() string {
	if m.cfg.Symbol == "" {
		return "BTC"
	}
	return m.cfg.Symbol
}
