// Package push turns the transport client into a self-healing feed of two
// event kinds for one user: new notifications and unread-count changes.
// Reconnect policy lives here, not in the transport.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinywideclouds/go-notification-sync/internal/transport"
	"github.com/tinywideclouds/go-notification-sync/pkg/bus"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
)

const (
	// DefaultBaseDelay is the first reconnect delay; each further attempt
	// doubles it.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxAttempts caps reconnect attempts before the channel is
	// declared degraded.
	DefaultMaxAttempts = 5
)

// Conn is the slice of the transport client the manager drives. Tests
// substitute a fake.
type Conn interface {
	Connect(ctx context.Context, userID string) error
	Subscribe(destination string, fn transport.MessageHandler) (*transport.Subscription, error)
	Disconnect()
	OnClose(fn func(error))
}

// Sink receives decoded push events.
type Sink interface {
	Ingest(n notification.Notification) bool
	SetUnreadCount(count int)
}

// Manager owns the per-user subscriptions and the bounded exponential
// reconnect policy. After the attempt cap it stops retrying and surfaces the
// degraded state so the poll synchronizer is known to be the sole channel.
type Manager struct {
	conn        Conn
	sink        Sink
	bus         *bus.Bus
	logger      *slog.Logger
	baseDelay   time.Duration
	maxAttempts int

	// schedule is the reconnect timer hook; tests inject a recorder.
	schedule func(d time.Duration, fn func()) *time.Timer

	mu         sync.Mutex
	userID     string
	connecting bool
	attempts   int
	degraded   bool
	stopped    bool
	backoff    *backoff.ExponentialBackOff
	timer      *time.Timer
}

// NewManager creates an idle manager. baseDelay <= 0 and maxAttempts <= 0
// select the defaults.
func NewManager(conn Conn, sink Sink, eventBus *bus.Bus, baseDelay time.Duration, maxAttempts int, logger *slog.Logger) *Manager {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	m := &Manager{
		conn:        conn,
		sink:        sink,
		bus:         eventBus,
		logger:      logger.With("component", "push"),
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		schedule:    time.AfterFunc,
	}
	m.backoff = m.newBackOff()
	return m
}

// newBackOff builds the deterministic doubling schedule: base, 2*base,
// 4*base, ... with no jitter, so attempt k waits base * 2^(k-1).
func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = m.baseDelay << (m.maxAttempts - 1)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Start connects and subscribes for the user. It is guarded against
// overlapping attempts from the same manager.
func (m *Manager) Start(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.userID = userID
	m.stopped = false
	m.degraded = false
	m.attempts = 0
	m.backoff = m.newBackOff()
	m.mu.Unlock()

	m.conn.OnClose(m.handleClose)
	if err := m.connect(ctx); err != nil {
		// A failed first attempt enters the same retry schedule as a lost
		// connection; the caller keeps polling either way.
		m.handleClose(err)
		return err
	}
	return nil
}

// Stop cancels any pending reconnect and disconnects. Safe when stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.conn.Disconnect()
}

// Degraded reports whether the reconnect budget is exhausted and polling is
// the sole channel.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// connect performs one connection attempt plus both subscriptions. The
// connect-in-progress flag prevents overlapping attempts.
func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	userID := m.userID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	if err := m.conn.Connect(ctx, userID); err != nil {
		return fmt.Errorf("push connect: %w", err)
	}
	if err := m.subscribeAll(userID); err != nil {
		return err
	}

	// A successful (re)connect resets the retry budget.
	m.mu.Lock()
	m.attempts = 0
	m.degraded = false
	m.backoff.Reset()
	m.mu.Unlock()

	m.bus.PublishChannelState(bus.ChannelLive)
	m.logger.Info("Push feed live.", "user_id", userID)
	return nil
}

// subscribeAll re-issues both per-user subscriptions; they do not survive a
// reconnection.
func (m *Manager) subscribeAll(userID string) error {
	notifDest := fmt.Sprintf("/user/%s/queue/notifications", userID)
	if _, err := m.conn.Subscribe(notifDest, m.handleNotificationFrame); err != nil {
		return fmt.Errorf("subscribe %s: %w", notifDest, err)
	}

	countDest := fmt.Sprintf("/user/%s/queue/unread-count", userID)
	if _, err := m.conn.Subscribe(countDest, m.handleCountFrame); err != nil {
		return fmt.Errorf("subscribe %s: %w", countDest, err)
	}
	return nil
}

func (m *Manager) handleNotificationFrame(body []byte) {
	var n notification.Notification
	if err := json.Unmarshal(body, &n); err != nil || n.ID == "" {
		m.logger.Warn("Dropping malformed notification frame.", "err", err)
		return
	}
	m.sink.Ingest(n)
}

func (m *Manager) handleCountFrame(body []byte) {
	var frame notification.CountFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		m.logger.Warn("Dropping malformed count frame.", "err", err)
		return
	}
	m.sink.SetUnreadCount(frame.UnreadCount)
}

// handleClose is the transport's unexpected-closure signal. It schedules the
// next reconnect attempt, or gives up and degrades once the cap is hit.
func (m *Manager) handleClose(cause error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.maxAttempts {
		m.degraded = true
		m.mu.Unlock()
		m.logger.Error("Reconnect budget exhausted; push channel degraded.", "attempts", m.maxAttempts)
		m.bus.PublishChannelState(bus.ChannelDegraded)
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.backoff.NextBackOff()
	m.mu.Unlock()

	m.logger.Warn("Push channel lost; scheduling reconnect.",
		"cause", cause, "attempt", attempt, "max_attempts", m.maxAttempts, "delay", delay)

	timer := m.schedule(delay, func() { m.reconnect() })
	m.mu.Lock()
	m.timer = timer
	m.mu.Unlock()
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.connect(ctx); err != nil {
		m.logger.Warn("Reconnect attempt failed.", "err", err)
		// Treat the failed attempt like another closure so the backoff
		// keeps growing toward the cap.
		m.handleClose(err)
	}
}
