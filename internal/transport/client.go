// Package transport owns the persistent push channel connection. It speaks a
// STOMP-style text-frame protocol over a websocket and exposes bare
// publish/subscribe primitives; it carries no notification semantics and no
// retry policy. Reconnection lives one layer up, in the push manager.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Subscribe when there is no live connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrEmptyUserID is returned by Connect when no session user is given.
	ErrEmptyUserID = errors.New("transport: empty user id")
)

// MessageHandler receives the body of each inbound MESSAGE frame for a
// subscribed destination.
type MessageHandler func(body []byte)

// Subscription is a handle for one destination subscription.
type Subscription struct {
	ID          string
	Destination string

	client *Client
}

// Unsubscribe removes the subscription. Safe on a handle whose connection is
// already gone.
func (s *Subscription) Unsubscribe() {
	if s.client == nil {
		return
	}
	s.client.unsubscribe(s)
}

// Client maintains at most one live websocket connection to the broker.
// All state transitions go through the mutex; the read loop is the only
// reader of the socket.
type Client struct {
	brokerURL        string
	logger           *slog.Logger
	handshakeTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	subs      map[string]*Subscription // keyed by destination
	handlers  map[string]MessageHandler
	onClose   func(error)

	writeMu sync.Mutex
}

// NewClient creates a disconnected client for the given broker URL
// (ws:// or wss://).
func NewClient(brokerURL string, logger *slog.Logger) *Client {
	return &Client{
		brokerURL:        brokerURL,
		logger:           logger.With("component", "transport"),
		handshakeTimeout: 10 * time.Second,
		subs:             make(map[string]*Subscription),
		handlers:         make(map[string]MessageHandler),
	}
}

// OnClose registers the unexpected-closure signal. The client never redials
// on its own.
func (c *Client) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// IsConnected reports whether a live connection exists.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the broker and performs the CONNECT/CONNECTED handshake.
// Idempotent: a second call on a live connection is a no-op.
func (c *Client) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.brokerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.brokerURL, err)
	}

	connect := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"login", userID,
	)
	if err := conn.WriteMessage(websocket.TextMessage, connect.Marshal()); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send CONNECT: %w", err)
	}

	// The handshake reply must arrive promptly.
	_ = conn.SetReadDeadline(time.Now().Add(c.handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("await CONNECTED: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	reply, err := ParseFrame(data)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake reply: %w", err)
	}
	if reply.Command != CmdConnected {
		_ = conn.Close()
		return fmt.Errorf("handshake refused: %s %s", reply.Command, reply.Headers["message"])
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.closing = false
	c.mu.Unlock()

	c.logger.Info("Push channel connected.", "broker", c.brokerURL, "user_id", userID)

	go c.readLoop(conn)
	return nil
}

// Subscribe registers a per-frame handler for one destination. Inbound
// MESSAGE frames are routed by their destination header.
func (c *Client) Subscribe(destination string, fn MessageHandler) (*Subscription, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	sub := &Subscription{
		ID:          uuid.NewString(),
		Destination: destination,
		client:      c,
	}
	c.subs[destination] = sub
	c.handlers[destination] = fn
	conn := c.conn
	c.mu.Unlock()

	frame := NewFrame(CmdSubscribe,
		"id", sub.ID,
		"destination", destination,
	)
	if err := c.write(conn, frame); err != nil {
		c.mu.Lock()
		delete(c.subs, destination)
		delete(c.handlers, destination)
		c.mu.Unlock()
		return nil, fmt.Errorf("send SUBSCRIBE %s: %w", destination, err)
	}

	c.logger.Debug("Subscribed.", "destination", destination, "sub_id", sub.ID)
	return sub, nil
}

// Disconnect unsubscribes all destinations and tears the connection down.
// Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn := c.conn
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*Subscription)
	c.handlers = make(map[string]MessageHandler)
	c.mu.Unlock()

	for _, s := range subs {
		frame := NewFrame(CmdUnsubscribe, "id", s.ID)
		if err := c.write(conn, frame); err != nil {
			c.logger.Debug("UNSUBSCRIBE during disconnect failed.", "destination", s.Destination, "err", err)
		}
	}
	if err := c.write(conn, NewFrame(CmdDisconnect)); err != nil {
		c.logger.Debug("DISCONNECT frame failed.", "err", err)
	}
	_ = conn.Close()

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	c.logger.Info("Push channel disconnected.")
}

func (c *Client) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	current, ok := c.subs[sub.Destination]
	if !ok || current.ID != sub.ID {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sub.Destination)
	delete(c.handlers, sub.Destination)
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return
	}
	if err := c.write(conn, NewFrame(CmdUnsubscribe, "id", sub.ID)); err != nil {
		c.logger.Debug("UNSUBSCRIBE failed.", "destination", sub.Destination, "err", err)
	}
}

func (c *Client) write(conn *websocket.Conn, f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

// readLoop is the sole reader of the socket. A frame that fails to parse is
// logged and dropped; only a socket error ends the loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, err)
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame.", "err", err)
			continue
		}

		switch frame.Command {
		case CmdMessage:
			c.dispatch(frame)
		case CmdError:
			c.logger.Warn("Broker ERROR frame.", "message", frame.Headers["message"])
		default:
			c.logger.Debug("Ignoring frame.", "command", frame.Command)
		}
	}
}

func (c *Client) dispatch(frame *Frame) {
	destination := frame.Headers["destination"]
	c.mu.Lock()
	handler := c.handlers[destination]
	c.mu.Unlock()

	if handler == nil {
		c.logger.Debug("MESSAGE for unknown destination.", "destination", destination)
		return
	}
	handler(frame.Body)
}

func (c *Client) handleClosed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	// A deliberate Disconnect already cleaned up; do not signal.
	if c.closing || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	c.subs = make(map[string]*Subscription)
	c.handlers = make(map[string]MessageHandler)
	onClose := c.onClose
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("Push channel closed unexpectedly.", "err", err)
	if onClose != nil {
		onClose(err)
	}
}
