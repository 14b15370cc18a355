package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"btc-trading-sim/internal/events"
)

// wsMessage is the wire form of a change-feed notification.
type wsMessage struct {
	Table   string `json:"table"`
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

// WSChannel is a change-feed connection over a websocket. Each Connect
// dials a fresh connection; the returned stream closes when the socket
// drops, which signals the resilience layer to reconnect.
type WSChannel struct {
	logger *zap.Logger
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ events.Channel = (*WSChannel)(nil)

// NewWSChannel creates a channel that dials the given websocket URL.
func NewWSChannel(logger *zap.Logger, url string) *WSChannel {
	return &WSChannel{
		logger: logger.Named("ws-feed"),
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *WSChannel) Connect(ctx context.Context) (<-chan events.ChangeEvent, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial change feed %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	out := make(chan events.ChangeEvent)
	go c.readLoop(conn, out)
	return out, nil
}

func (c *WSChannel) readLoop(conn *websocket.Conn, out chan<- events.ChangeEvent) {
	defer close(out)
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("Change feed read failed", zap.Error(err))
			}
			return
		}
		out <- events.ChangeEvent{Table: msg.Table, Action: msg.Action, Payload: msg.Payload}
	}
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
