package events

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"btc-trading-sim/internal/types"
)

// Event is one notification fanned out to subscribers.
type Event struct {
	Type    types.EventType
	Payload any
	At      time.Time
}

// Handler receives events. Handlers run synchronously on the publisher's
// goroutine; a panicking handler is isolated and must not break fan-out.
type Handler func(Event)

// Bus is a typed publish/subscribe fan-out. Delivery is ordered per
// subscriber: one listener always sees events in publish order.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[types.EventType]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("events"),
		subs:   make(map[types.EventType]map[int]Handler),
	}
}

// Subscribe registers cb for the given event type and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(t types.EventType, cb Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[t] == nil {
		b.subs[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[t][id] = cb

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[t], id)
	}
}

// Publish delivers the event to all current subscribers of its type.
// A panicking subscriber is logged and skipped; the rest still run.
func (b *Bus) Publish(t types.EventType, payload any) {
	evt := Event{Type: t, Payload: payload, At: time.Now()}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs[t]))
	for id := range b.subs[t] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[t][id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, evt)
	}
}

// SubscriberCount returns the number of live subscriptions for a type.
func (b *Bus) SubscriberCount(t types.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

func (b *Bus) safeCall(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked during event delivery",
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", r))
		}
	}()
	h(evt)
}
