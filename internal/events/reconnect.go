package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"btc-trading-sim/internal/types"
)

// ChangeEvent is one row-level change delivered by the live-update channel.
type ChangeEvent struct {
	Table   string
	Action  string // "insert", "update" or "delete"
	Payload any
}

// Channel is the underlying live-update connection the resilience layer
// wraps. Connect blocks until the connection is established and returns a
// stream that is closed when the connection drops.
type Channel interface {
	Connect(ctx context.Context) (<-chan ChangeEvent, error)
	Close() error
}

// ConnectionStatus is the payload of connection-status events.
type ConnectionStatus struct {
	State   string // "connected", "reconnecting" or "failed"
	Attempt int
	Err     string `json:",omitempty"`
}

// Reconnector consumes a Channel, republishes its change events on the
// bus, and reconnects with exponential backoff when the channel drops.
// After MaxAttempts consecutive failures it publishes a terminal
// connection-status "failed" event and stops; the caller must invoke
// Resubscribe to start a fresh connection cycle.
type Reconnector struct {
	logger      *zap.Logger
	bus         *Bus
	channel     Channel
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxAttempts int

	mu        sync.Mutex
	connected bool
	failed    bool
	restart   chan struct{}
}

// NewReconnector wires a channel to the bus.
func NewReconnector(logger *zap.Logger, bus *Bus, ch Channel, base, max time.Duration, maxAttempts int) *Reconnector {
	return &Reconnector{
		logger:      logger.Named("reconnector"),
		bus:         bus,
		channel:     ch,
		baseBackoff: base,
		maxBackoff:  max,
		maxAttempts: maxAttempts,
		restart:     make(chan struct{}, 1),
	}
}

// Run drives the connect/consume/backoff loop until ctx is cancelled.
// It never returns an error for connection trouble; failure is reported
// through connection-status events.
func (r *Reconnector) Run(ctx context.Context) {
	for {
		r.runCycle(ctx)

		// Terminal failure: wait for an explicit Resubscribe or shutdown.
		select {
		case <-ctx.Done():
			return
		case <-r.restart:
			r.logger.Info("Resubscribe requested, restarting connection cycle")
		}
	}
}

// Resubscribe starts a fresh connection cycle after a terminal failure.
// Calling it while the connector is still healthy is a no-op.
func (r *Reconnector) Resubscribe() {
	r.mu.Lock()
	failed := r.failed
	r.failed = false
	r.mu.Unlock()
	if !failed {
		return
	}
	select {
	case r.restart <- struct{}{}:
	default:
	}
}

// Connected reports whether the channel is currently established.
func (r *Reconnector) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Failed reports whether the connector has exhausted its retry budget.
func (r *Reconnector) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// runCycle connects and consumes until the retry budget is exhausted or
// ctx is cancelled.
func (r *Reconnector) runCycle(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := r.channel.Connect(ctx)
		if err != nil {
			attempt++
			if r.giveUp(attempt, err) {
				return
			}
			if !r.backoff(ctx, attempt, err) {
				return
			}
			continue
		}

		r.setConnected(true)
		attempt = 0
		r.bus.Publish(types.EventConnectionStatus, ConnectionStatus{State: "connected"})
		r.logger.Info("Change feed connected")

		r.consume(ctx, stream)
		r.setConnected(false)
		if ctx.Err() != nil {
			return
		}

		attempt++
		if r.giveUp(attempt, fmt.Errorf("change feed stream closed: %w", types.ErrConnectionFailed)) {
			return
		}
		if !r.backoff(ctx, attempt, nil) {
			return
		}
	}
}

func (r *Reconnector) consume(ctx context.Context, stream <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ce, ok := <-stream:
			if !ok {
				return
			}
			if t, ok := eventTypeFor(ce); ok {
				r.bus.Publish(t, ce)
			}
		}
	}
}

// giveUp publishes the terminal failed status once the attempt ceiling is
// crossed and reports whether retrying should stop.
func (r *Reconnector) giveUp(attempt int, err error) bool {
	if attempt <= r.maxAttempts {
		return false
	}
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.logger.Error("Change feed retries exhausted, waiting for resubscribe",
		zap.Int("attempts", attempt-1), zap.Error(err))
	r.bus.Publish(types.EventConnectionStatus, ConnectionStatus{
		State:   "failed",
		Attempt: attempt - 1,
		Err:     msg,
	})
	return true
}

// backoff sleeps for the exponential delay of the given attempt. Returns
// false if ctx was cancelled while waiting.
func (r *Reconnector) backoff(ctx context.Context, attempt int, err error) bool {
	delay := r.baseBackoff << (attempt - 1)
	if delay > r.maxBackoff || delay <= 0 {
		delay = r.maxBackoff
	}

	r.logger.Warn("Change feed disconnected, retrying...",
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay),
		zap.Error(err))
	r.bus.Publish(types.EventConnectionStatus, ConnectionStatus{
		State:   "reconnecting",
		Attempt: attempt,
	})

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (r *Reconnector) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

// eventTypeFor maps a change-feed table to the bus event type its
// consumers listen on. Changes to unknown tables are dropped.
func eventTypeFor(ce ChangeEvent) (types.EventType, bool) {
	switch ce.Table {
	case "portfolios":
		return types.EventPortfolioChanged, true
	case "transactions":
		return types.EventTransactionCreated, true
	case "orders":
		return types.EventOrderChanged, true
	case "price_ticks":
		return types.EventPriceChanged, true
	default:
		return "", false
	}
}
