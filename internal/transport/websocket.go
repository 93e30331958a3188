package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

// Listener protocol operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpSnapshot    = "snapshot"
	OpError       = "error"
	OpDetached    = "detached"
)

// WireMessage is a single frame of the listener protocol, in either direction.
type WireMessage struct {
	Op         string            `json:"op"`
	ID         string            `json:"id"`
	Collection string            `json:"collection,omitempty"`
	Field      string            `json:"field,omitempty"`
	Value      string            `json:"value,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Documents  []models.Document `json:"documents,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// WSClient multiplexes realtime listeners over one WebSocket connection.
// The connection is dialed on the first Subscribe and again after it drops.
// When it drops every live listener receives a detached event.
type WSClient struct {
	url    string
	logger *events.Logger
	buffer int

	tokenMu sync.RWMutex
	token   string

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]*store.Stream
	closed bool

	writeMu sync.Mutex

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a WebSocket listener client.
func NewWSClient(wsURL, token string, logger *events.Logger) *WSClient {
	return &WSClient{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "ws_client"),
		buffer:       16,
		subs:         make(map[string]*store.Stream),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// SetToken sets the token used for subsequent connections.
func (c *WSClient) SetToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

func (c *WSClient) getToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Connected reports whether a connection is currently open.
func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe registers a listener for q.
func (c *WSClient) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, &models.StoreError{Op: "subscribe", Collection: q.Collection, Err: err}
	}

	id := uuid.NewString()
	stream := store.NewStream(id, c.buffer, func() { c.unsubscribe(conn, id) })

	c.mu.Lock()
	c.subs[id] = stream
	c.mu.Unlock()

	msg := WireMessage{
		Op:         OpSubscribe,
		ID:         id,
		Collection: q.Collection,
		Field:      q.Filter.Field,
		Value:      q.Filter.Value,
		Limit:      q.Limit,
	}
	if err := c.write(conn, msg); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, &models.StoreError{Op: "subscribe", Collection: q.Collection, Err: err}
	}

	c.logger.WithFields(map[string]interface{}{
		"subscription": id,
		"collection":   q.Collection,
	}).Debug("Listener registered")

	return stream, nil
}

// connect returns the open connection, dialing a new one if needed.
func (c *WSClient) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, models.ErrNotConnected
	}
	if c.conn != nil {
		return c.conn, nil
	}

	c.logger.WithField("url", c.url).Info("Connecting to WebSocket")

	headers := http.Header{}
	if token := c.getToken(); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn
	done := make(chan struct{})

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)

	c.logger.Info("WebSocket connected")
	return conn, nil
}

func (c *WSClient) write(conn *websocket.Conn, msg WireMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.pongTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Op, err)
	}
	return nil
}

func (c *WSClient) unsubscribe(conn *websocket.Conn, id string) {
	c.mu.Lock()
	_, live := c.subs[id]
	delete(c.subs, id)
	current := c.conn == conn
	c.mu.Unlock()

	if !live || !current {
		return
	}
	if err := c.write(conn, WireMessage{Op: OpUnsubscribe, ID: id}); err != nil {
		c.logger.WithError(err).WithField("subscription", id).Debug("Unsubscribe not sent")
	}
}

// Close terminates every listener and closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	subs := c.subs
	c.subs = make(map[string]*store.Stream)
	c.mu.Unlock()

	for _, s := range subs {
		s.Terminate(store.Detached("client closed"))
	}

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return conn.Close()
}

// readLoop routes server frames to their listeners.
func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	conn.SetPongHandler(func(string) error {
		c.logger.Debug("Received pong")
		_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
		return nil
	})

	for {
		_, r, err := conn.NextReader()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}

		dec := json.NewDecoder(r)
		dec.UseNumber()
		var msg WireMessage
		if err := dec.Decode(&msg); err != nil {
			c.logger.WithError(err).Warn("Dropping malformed frame")
			continue
		}

		c.dispatch(msg)
	}
}

func (c *WSClient) dispatch(msg WireMessage) {
	c.mu.Lock()
	stream, ok := c.subs[msg.ID]
	if ok && msg.Op == OpDetached {
		delete(c.subs, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.WithFields(map[string]interface{}{
			"op":           msg.Op,
			"subscription": msg.ID,
		}).Debug("Frame for unknown listener")
		return
	}

	switch msg.Op {
	case OpSnapshot:
		docs := msg.Documents
		if docs == nil {
			docs = []models.Document{}
		}
		stream.Push(store.Snapshot(docs))
	case OpError:
		stream.Push(store.ErrorEvent(msg.Message))
	case OpDetached:
		stream.Terminate(store.Detached(msg.Message))
	default:
		c.logger.WithField("op", msg.Op).Warn("Unknown frame op")
	}
}

// connectionLost detaches every listener bound to conn.
func (c *WSClient) connectionLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	subs := c.subs
	c.subs = make(map[string]*store.Stream)
	c.mu.Unlock()

	_ = conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.logger.WithError(err).Warn("WebSocket connection lost")
	} else {
		c.logger.WithError(err).Info("WebSocket closed")
	}

	for _, s := range subs {
		s.Terminate(store.Detached("connection lost"))
	}
}

// pingLoop sends periodic pings.
func (c *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.logger.Debug("Sending ping")
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Error("Ping failed")
				return
			}

		case <-done:
			return
		}
	}
}
