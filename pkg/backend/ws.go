package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// requestTimeout bounds how long a request waits for its result frame
	// when the caller's context has no earlier deadline.
	requestTimeout = 30 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxFrameSize   = 1 << 20
	sendBufferSize = 256
)

// Subscription is a handle for one local subscriber on a collection.
// Multiple subscriptions to the same collection share a single wire
// subscription; see Client.Subscribe.
type Subscription struct {
	collection string
	fn         EventHandler
	cancelled  bool // guarded by Client.subsMu
}

// Client is a WebSocket implementation of Gateway. One connection
// multiplexes all requests and all collection subscriptions.
type Client struct {
	url   string
	token string
	log   zerolog.Logger

	dialer *websocket.Dialer
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan *Envelope

	// subs holds local subscribers per collection. The wire subscription
	// for a collection exists exactly while len(subs[collection]) > 0.
	subsMu sync.Mutex
	subs   map[string][]*Subscription

	closeOnce sync.Once
	connected bool
}

var _ Gateway = (*Client)(nil)

// NewClient creates a client for the given WebSocket URL. Connect must be
// called before any other method.
func NewClient(url, token string, log zerolog.Logger) *Client {
	return &Client{
		url:     url,
		token:   token,
		log:     log.With().Str("component", "backend").Logger(),
		dialer:  websocket.DefaultDialer,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan *Envelope),
		subs:    make(map[string][]*Subscription),
	}
}

// Connect dials the server, starts the read/write pumps and
// authenticates. It must be called exactly once.
func (c *Client) Connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.conn = conn
	c.connected = true

	go c.writePump()
	go c.readPump()

	if _, err := c.request(ctx, FrameAuth, AuthFrame{Token: c.token}); err != nil {
		c.Close()
		return fmt.Errorf("authentication failed: %w", err)
	}
	c.log.Info().Str("url", c.url).Msg("Connected to backend")
	return nil
}

// Close tears down the connection. Safe to call multiple times and
// concurrently with in-flight requests, which all fail with
// ErrNotConnected.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.connected = false
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		c.failPending()
		c.log.Info().Msg("Disconnected from backend")
	})
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// request sends an envelope and waits for the matching result frame.
func (c *Client) request(ctx context.Context, frameType FrameType, data any) (*ResultFrame, error) {
	if !c.connected {
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	env, err := NewEnvelope(frameType, id, data)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.send <- raw:
	case <-c.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Type == FrameError {
			var errFrame ErrorFrame
			if err := json.Unmarshal(resp.Data, &errFrame); err != nil {
				return nil, fmt.Errorf("backend: request failed with unparseable error: %w", err)
			}
			return nil, &errFrame
		}
		var result ResultFrame
		if len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return nil, fmt.Errorf("failed to parse result frame: %w", err)
			}
		}
		return &result, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	result, err := c.request(ctx, FrameList, ListFrame{
		Collection: collection,
		Filter:     opts.Filter,
		Sort:       opts.Sort,
		PageSize:   opts.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *Client) Create(ctx context.Context, collection string, fields any) (json.RawMessage, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, FrameCreate, MutateFrame{Collection: collection, Fields: raw})
	if err != nil {
		return nil, err
	}
	return result.Record, nil
}

func (c *Client) Update(ctx context.Context, collection, id string, fields any) (json.RawMessage, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, FrameUpdate, MutateFrame{Collection: collection, RecordID: id, Fields: raw})
	if err != nil {
		return nil, err
	}
	return result.Record, nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.request(ctx, FrameDelete, MutateFrame{Collection: collection, RecordID: id})
	return err
}

// Subscribe registers fn for events on the collection. The first local
// subscriber for a collection sends the wire subscribe frame; later ones
// just join the existing wire subscription.
func (c *Client) Subscribe(collection string, fn EventHandler) (*Subscription, error) {
	sub := &Subscription{collection: collection, fn: fn}

	c.subsMu.Lock()
	existing := len(c.subs[collection])
	c.subs[collection] = append(c.subs[collection], sub)
	c.subsMu.Unlock()

	if existing > 0 {
		return sub, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := c.request(ctx, FrameSubscribe, SubscribeFrame{Collection: collection}); err != nil {
		c.removeSub(sub)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}
	c.log.Debug().Str("collection", collection).Msg("Opened wire subscription")
	return sub, nil
}

// Unsubscribe cancels a handle. The wire unsubscribe frame is only sent
// when the last local subscriber for the collection goes away; a wire
// teardown failure is returned for logging but local state is already
// clean by then.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	last := c.removeSub(sub)
	if !last {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := c.request(ctx, FrameUnsubscribe, SubscribeFrame{Collection: sub.collection}); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", sub.collection, err)
	}
	c.log.Debug().Str("collection", sub.collection).Msg("Closed wire subscription")
	return nil
}

// removeSub detaches a subscription and reports whether it was the last
// one for its collection. Repeated removal of the same handle is a no-op.
func (c *Client) removeSub(sub *Subscription) (wasLast bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if sub.cancelled {
		return false
	}
	sub.cancelled = true
	list := c.subs[sub.collection]
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.subs, sub.collection)
		return true
	}
	c.subs[sub.collection] = list
	return false
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleFrame routes one incoming frame. A malformed frame is dropped
// with a log line — a single bad frame must not take down the session.
func (c *Client) handleFrame(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("Dropping malformed frame")
		return
	}

	switch env.Type {
	case FrameResult, FrameError:
		c.pendingMu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.log.Debug().Str("id", env.ID).Msg("Dropping result for unknown request (likely timed out)")
			return
		}
		ch <- env
	case FrameEvent:
		var evt Event
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed event frame")
			return
		}
		if !evt.Action.Valid() {
			c.log.Warn().Str("action", string(evt.Action)).Msg("Dropping event with unknown action")
			return
		}
		c.dispatchEvent(evt)
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("Ignoring unexpected frame type")
	}
}

// dispatchEvent fans one event out to the collection's local subscribers
// in registration order. Handlers run on the read pump goroutine, which
// preserves delivery order for each subscriber.
func (c *Client) dispatchEvent(evt Event) {
	c.subsMu.Lock()
	list := make([]*Subscription, len(c.subs[evt.Collection]))
	copy(list, c.subs[evt.Collection])
	c.subsMu.Unlock()

	for _, sub := range list {
		sub.fn(evt)
	}
}
