package feed

import (
	"context"
	"sync"

	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/types"
)

// MemoryChannel is an in-process change feed for single-process
// deployments and tests. The store side calls Emit after each write; the
// resilience layer consumes it like any other channel.
type MemoryChannel struct {
	mu     sync.Mutex
	stream chan events.ChangeEvent
	closed bool
}

var _ events.Channel = (*MemoryChannel)(nil)

// NewMemoryChannel creates an unconnected in-memory channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

func (c *MemoryChannel) Connect(ctx context.Context) (<-chan events.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, types.ErrConnectionFailed
	}
	if c.stream != nil {
		// A second Connect replaces the previous stream.
		close(c.stream)
	}
	c.stream = make(chan events.ChangeEvent, 64)
	return c.stream, nil
}

// Emit delivers a change event to the current stream, dropping it if the
// channel is not connected or the buffer is full.
func (c *MemoryChannel) Emit(ce events.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.closed {
		return
	}
	select {
	case c.stream <- ce:
	default:
	}
}

// Disconnect closes the current stream without closing the channel,
// simulating a dropped connection.
func (c *MemoryChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		close(c.stream)
		c.stream = nil
	}
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		close(c.stream)
		c.stream = nil
	}
	c.closed = true
	return nil
}
