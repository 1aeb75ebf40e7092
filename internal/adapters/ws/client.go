package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/core"
)

var ErrBackpressure = errors.New("backpressure")
var ErrClosed = errors.New("connection closed")

const (
	writeDeadline    = 5 * time.Second
	sendBufferSize   = 32
	backoffTimeReset = 1 * time.Second
	backoffTimeMax   = 32 * time.Second
)

// envelope is the broker frame. Outbound frames carry a destination,
// inbound frames carry the topic they were published on.
type envelope struct {
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Client is a signaling broker connection over a single websocket. It
// reconnects with exponential backoff and replays its subscriptions
// after every reconnect.
type Client struct {
	url   string
	token string

	mu       sync.RWMutex
	conn     *websocket.Conn
	send     chan core.Frame
	handlers map[string][]func(core.Frame)
	closed   bool
	cancel   context.CancelFunc
	backoff  time.Duration
}

func NewClient(url, token string) *Client {
	return &Client{
		url:      url,
		token:    token,
		handlers: make(map[string][]func(core.Frame)),
		backoff:  backoffTimeReset,
	}
}

// Subscribe registers a handler for a topic. Handlers survive
// reconnects. Call before Connect so no frame is dropped.
func (c *Client) Subscribe(topic string, handler func(core.Frame)) {
	c.mu.Lock()
	c.handlers[topic] = append(c.handlers[topic], handler)
	subscribed := c.conn != nil
	c.mu.Unlock()

	if subscribed {
		c.sendSubscribe(topic)
	}
}

// Connect dials the broker and starts the pump goroutines. It returns
// after the first successful dial; later drops reconnect in the
// background until ctx is cancelled or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		// Keep retrying in the background so a late broker still gets
		// this client.
		go c.reconnect(ctx)
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	log.Info().Str("module", "ws").Str("url", c.url).Msg("connected")

	send := make(chan core.Frame, sendBufferSize)
	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.backoff = backoffTimeReset
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	go c.writePump(ctx, conn, send)
	go c.readPump(ctx, conn)

	for _, t := range topics {
		c.sendSubscribe(t)
	}
	return nil
}

func (c *Client) sendSubscribe(topic string) {
	b, err := json.Marshal(map[string]string{"subscribe": topic})
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("subscribe marshal")
		return
	}
	if err := c.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("topic", topic).Msg("subscribe send")
	}
}

// Publish marshals body and queues it for the broker destination.
func (c *Client) Publish(destination string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	b, err := json.Marshal(envelope{Destination: destination, Body: raw})
	if err != nil {
		return err
	}
	return c.trySend(b)
}

func (c *Client) trySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if c.send == nil {
		return errors.New("not connected")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send chan core.Frame) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Msg("writePump ctx done")
			return
		case data, ok := <-send:
			if !ok {
				log.Warn().Str("module", "ws").Msg("writePump channel closed")
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		log.Info().Str("module", "ws").Msg("readPump closing")
		_ = conn.Close()
		c.reconnect(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Msg("readPump ctx done")
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("readPump read error")
				return
			}
			c.handleFrame(data)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		return
	}
	if env.Topic == "" {
		return
	}

	c.mu.RLock()
	handlers := append([]func(core.Frame){}, c.handlers[env.Topic]...)
	c.mu.RUnlock()

	if len(handlers) == 0 {
		log.Warn().Str("module", "ws").Str("topic", env.Topic).Msg("unknown topic")
		return
	}
	for _, h := range handlers {
		h(core.Frame(env.Body))
	}
}

// reconnect redials with capped exponential backoff until it succeeds
// or the client goes away.
func (c *Client) reconnect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.send = nil
	delay := c.backoff
	c.backoff *= 2
	if c.backoff > backoffTimeMax {
		c.backoff = backoffTimeMax
	}
	c.mu.Unlock()

	log.Info().Str("module", "ws").Dur("delay", delay).Msg("reconnecting")
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.dial(ctx); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("redial failed")
		c.reconnect(ctx)
	}
}

// Close tears the connection down for good. No reconnect after this.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.send = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
