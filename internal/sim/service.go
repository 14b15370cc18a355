package sim

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"btc-trading-sim/internal/analytics"
	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/engine"
	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/override"
	"btc-trading-sim/internal/pricefeed"
	"btc-trading-sim/internal/store"
)

// Service assembles the simulator core: price feed, overrides, execution
// engine, analytics and event distribution, constructed once at process
// start and passed by handle to consumers.
type Service struct {
	UUID      string
	StartTime time.Time

	logger      *zap.Logger
	cfg         *config.Config
	store       store.Store
	Bus         *events.Bus
	Prices      *pricefeed.Manager
	Overrides   *override.Manager
	Engine      *engine.Engine
	Analytics   *analytics.Service
	Reconnector *events.Reconnector

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the components together. The persistent store, price
// source client and change-feed channel are supplied by the host.
func NewService(logger *zap.Logger, cfg *config.Config, st store.Store, client pricefeed.SourceClient, ch events.Channel) *Service {
	bus := events.NewBus(logger)
	overrides := override.NewManager(logger, st)
	prices := pricefeed.NewManager(logger, cfg.PriceSource, client, st, overrides, bus)
	eng := engine.NewEngine(logger, cfg.Trading, st, prices, bus)
	anly := analytics.NewService(logger, st, prices,
		cfg.Trading.InitialBalance,
		time.Duration(cfg.Analytics.CacheTTLSec)*time.Second,
		bus)

	// Each tick's matching completes before the next tick's fetch begins.
	prices.SetTickHandler(eng.MatchPendingOrders)

	var rec *events.Reconnector
	if ch != nil {
		rec = events.NewReconnector(logger, bus, ch,
			time.Duration(cfg.Feed.BaseBackoffMs)*time.Millisecond,
			time.Duration(cfg.Feed.MaxBackoffMs)*time.Millisecond,
			cfg.Feed.MaxReconnects)
	}

	return &Service{
		UUID:        uuid.NewString(),
		StartTime:   time.Now(),
		logger:      logger.Named("sim"),
		cfg:         cfg,
		store:       st,
		Bus:         bus,
		Prices:      prices,
		Overrides:   overrides,
		Engine:      eng,
		Analytics:   anly,
		Reconnector: rec,
	}
}

// Start begins the tick loop and the change-feed consumer. Background
// work runs under a derived context, so Stop works whether or not the
// caller ever cancels ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.Reconnector != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Reconnector.Run(ctx)
		}()
	}

	interval := time.Duration(s.cfg.Trading.TickInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.Prices.Start(ctx, interval)

	s.logger.Info("Simulator core started",
		zap.String("uuid", s.UUID),
		zap.Duration("tick_interval", interval))
}

// Stop halts the price feed and the change-feed consumer and waits for
// background work to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.Prices.Stop()
	s.wg.Wait()
	s.logger.Info("Simulator core stopped")
}

// ServiceStatus is the coarse running/connected view exposed to hosts.
type ServiceStatus struct {
	UUID          string    `json:"uuid"`
	Running       bool      `json:"running"`
	FeedConnected bool      `json:"feed_connected"`
	FeedFailed    bool      `json:"feed_failed"`
	TickCount     uint64    `json:"tick_count"`
	FetchFailures uint64    `json:"fetch_failures"`
	LastTick      time.Time `json:"last_tick"`
	StartTime     time.Time `json:"start_time"`
	Uptime        string    `json:"uptime"`
}

// Status returns running/connected flags and counters.
func (s *Service) Status() ServiceStatus {
	ticks, failures, lastTick := s.Prices.Stats()

	st := ServiceStatus{
		UUID:          s.UUID,
		Running:       s.Prices.Running(),
		TickCount:     ticks,
		FetchFailures: failures,
		LastTick:      lastTick,
		StartTime:     s.StartTime,
		Uptime:        time.Since(s.StartTime).String(),
	}
	if s.Reconnector != nil {
		st.FeedConnected = s.Reconnector.Connected()
		st.FeedFailed = s.Reconnector.Failed()
	}
	return st
}

// Health summarizes price-feed freshness and connection health.
type Health struct {
	Healthy    bool   `json:"healthy"`
	PriceFresh bool   `json:"price_fresh"`
	Connection string `json:"connection"`
}

// HealthCheck reports whether the last tick is recent (within three tick
// intervals) and whether the change feed is usable.
func (s *Service) HealthCheck() Health {
	_, _, lastTick := s.Prices.Stats()
	interval := time.Duration(s.cfg.Trading.TickInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	h := Health{
		PriceFresh: !lastTick.IsZero() && time.Since(lastTick) < 3*interval,
		Connection: "disabled",
	}
	if s.Reconnector != nil {
		switch {
		case s.Reconnector.Failed():
			h.Connection = "failed"
		case s.Reconnector.Connected():
			h.Connection = "connected"
		default:
			h.Connection = "reconnecting"
		}
	}
	h.Healthy = h.PriceFresh && h.Connection != "failed"
	return h
}
