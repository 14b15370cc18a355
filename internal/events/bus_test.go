package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"btc-trading-sim/internal/types"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe(types.EventPriceChanged, func(evt Event) {
		got = append(got, "a")
	})
	bus.Subscribe(types.EventPriceChanged, func(evt Event) {
		got = append(got, "b")
	})
	bus.Subscribe(types.EventOrderChanged, func(evt Event) {
		got = append(got, "other-type")
	})

	bus.Publish(types.EventPriceChanged, nil)

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestBus_PanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var delivered int
	bus.Subscribe(types.EventTransactionCreated, func(evt Event) {
		panic("bad listener")
	})
	bus.Subscribe(types.EventTransactionCreated, func(evt Event) {
		delivered++
	})

	assert.NotPanics(t, func() {
		bus.Publish(types.EventTransactionCreated, nil)
	})
	assert.Equal(t, 1, delivered)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var calls int
	unsub := bus.Subscribe(types.EventPriceChanged, func(evt Event) {
		calls++
	})

	bus.Publish(types.EventPriceChanged, nil)
	unsub()
	bus.Publish(types.EventPriceChanged, nil)
	unsub() // second call is a no-op

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.SubscriberCount(types.EventPriceChanged))
}

func TestBus_PerSubscriberOrdering(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var seen []int
	bus.Subscribe(types.EventPriceChanged, func(evt Event) {
		seen = append(seen, evt.Payload.(int))
	})

	for i := 0; i < 5; i++ {
		bus.Publish(types.EventPriceChanged, i)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}
