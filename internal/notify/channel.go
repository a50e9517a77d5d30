package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hooksbot/client/internal/model"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Handler consumes one notification envelope.
type Handler func(model.Envelope)

// Channel is the single process-wide notification connection. It is created
// once per session and reused across jobs; it carries envelopes for every
// task the session ever submitted, matching or not. Connect/disconnect
// callbacks are informational only; the channel does not reconnect on its
// own and job-level operations are never retried here.
type Channel struct {
	conn *websocket.Conn

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	closed   bool

	onConnect    func()
	onDisconnect func(error)

	done chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithConnectHandler registers a callback fired once the channel is up.
func WithConnectHandler(fn func()) Option {
	return func(c *Channel) { c.onConnect = fn }
}

// WithDisconnectHandler registers a callback fired when the read loop ends.
func WithDisconnectHandler(fn func(error)) Option {
	return func(c *Channel) { c.onDisconnect = fn }
}

// Dial connects to the server's notification endpoint.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial notification channel %s: %w", wsURL, err)
	}

	c := &Channel{
		conn:     conn,
		handlers: make(map[int]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.onConnect != nil {
		c.onConnect()
	}
	log.Printf("[notify] channel connected to %s", wsURL)

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// OnEnvelope registers a handler for every incoming envelope and returns its
// unsubscribe function. Handlers run on the read goroutine, in delivery
// order; no buffering or reordering happens here.
func (c *Channel) OnEnvelope(h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.handlers[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// Done is closed once the read loop has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[notify] channel read error: %v", err)
			}
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[notify] dropping malformed envelope: %v", err)
			continue
		}
		if env.Type == "" {
			continue
		}

		c.mu.Lock()
		handlers := make([]Handler, 0, len(c.handlers))
		for _, h := range c.handlers {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()

		for _, h := range handlers {
			h(env)
		}
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
