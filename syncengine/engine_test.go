package syncengine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-sync/internal/api"
	"github.com/tinywideclouds/go-notification-sync/internal/transport"
	"github.com/tinywideclouds/go-notification-sync/pkg/bus"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
	"github.com/tinywideclouds/go-notification-sync/syncengine"
	"github.com/tinywideclouds/go-notification-sync/syncengine/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		BrokerURL:    "ws://broker/ws",
		APIBaseURL:   "http://api/api",
		PollInterval: time.Hour, // only the immediate first cycle runs
		PageSize:     50,
		CacheTTL:     30 * time.Second,
		Reconnect: config.ReconnectConfig{
			BaseDelay:   5 * time.Millisecond,
			MaxAttempts: 2,
		},
	}
}

// fakeConn is a scriptable push transport. connectErrs feeds one error per
// Connect call; exhausted entries mean success.
type fakeConn struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	handlers    map[string]transport.MessageHandler
	onClose     func(error)
}

func newFakeConn(connectErrs ...error) *fakeConn {
	return &fakeConn{
		connectErrs: connectErrs,
		handlers:    make(map[string]transport.MessageHandler),
	}
}

func (f *fakeConn) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.connects
	f.connects++
	if idx < len(f.connectErrs) && f.connectErrs[idx] != nil {
		return f.connectErrs[idx]
	}
	return nil
}

func (f *fakeConn) Subscribe(destination string, fn transport.MessageHandler) (*transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[destination] = fn
	return &transport.Subscription{ID: destination, Destination: destination}, nil
}

func (f *fakeConn) Disconnect() {}

func (f *fakeConn) OnClose(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeConn) deliver(destination, body string) {
	f.mu.Lock()
	fn := f.handlers[destination]
	f.mu.Unlock()
	if fn != nil {
		fn([]byte(body))
	}
}

func (f *fakeConn) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// fakeBackend serves a per-user scripted snapshot and records mutations.
type fakeBackend struct {
	mu        sync.Mutex
	snapshots map[string]notification.Snapshot
	marked    []string
	markedAll int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{snapshots: make(map[string]notification.Snapshot)}
}

func (f *fakeBackend) serve(userID string, unread int, items ...notification.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[userID] = notification.Snapshot{Unread: unread, Items: items}
}

func (f *fakeBackend) ListNotifications(_ context.Context, userID string, _ api.ListOptions) (*notification.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshots[userID]
	return &snap, nil
}

func (f *fakeBackend) UnreadCount(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[userID].Unread, nil
}

func (f *fakeBackend) MarkRead(_ context.Context, _, notifID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, notifID)
	return nil
}

func (f *fakeBackend) MarkAllRead(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedAll++
	return nil
}

func (f *fakeBackend) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out
}

func notif(id string, createdAt time.Time) notification.Notification {
	return notification.Notification{ID: id, Title: "t-" + id, CreatedAt: createdAt}
}

func TestEngine_PushAndPollConverge(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	backend := newFakeBackend()
	backend.serve("u-1", 4,
		notif("n-1", base),
		notif("n-2", base.Add(time.Minute)),
		notif("n-3", base.Add(2*time.Minute)),
		notif("n-4", base.Add(3*time.Minute)),
	)
	conn := newFakeConn()

	engine := syncengine.New(testConfig(), conn, backend, newTestLogger())
	defer engine.Stop()

	require.NoError(t, engine.Start(context.Background(), "u-1"))

	// The newest item also arrives on the push feed; the store must not
	// count it twice.
	conn.deliver("/user/u-1/queue/notifications",
		`{"id":"n-4","title":"t-n-4","created_at":"2026-08-30T10:03:00Z"}`)

	require.Eventually(t, func() bool {
		return engine.Store().Len() == 4 && engine.Store().Unread() == 4
	}, time.Second, 5*time.Millisecond)

	seen := make(map[string]bool)
	for _, n := range engine.Store().List() {
		seen[n.ID] = true
	}
	assert.Len(t, seen, 4)
	assert.False(t, engine.Degraded())
}

func TestEngine_StartSameUserIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	conn := newFakeConn()

	engine := syncengine.New(testConfig(), conn, backend, newTestLogger())
	defer engine.Stop()

	require.NoError(t, engine.Start(context.Background(), "u-1"))
	require.NoError(t, engine.Start(context.Background(), "u-1"))

	assert.Equal(t, 1, conn.connectCount())
}

func TestEngine_DegradesToPollingOnly(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	backend := newFakeBackend()
	backend.serve("u-1", 2, notif("n-1", base), notif("n-2", base.Add(time.Minute)))

	// Every connection attempt fails until the retry budget runs out.
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errors.New("broker unreachable")
	}
	conn := newFakeConn(errs...)

	engine := syncengine.New(testConfig(), conn, backend, newTestLogger())
	defer engine.Stop()

	var mu sync.Mutex
	var states []bus.ChannelState
	engine.Bus().OnChannelState(func(s bus.ChannelState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	// A failed push connect is not fatal: the session starts on polling.
	require.NoError(t, engine.Start(context.Background(), "u-1"))

	require.Eventually(t, engine.Degraded, time.Second, 5*time.Millisecond)

	// The poll channel delivered the snapshot regardless.
	require.Eventually(t, func() bool {
		return engine.Store().Len() == 2 && engine.Store().Unread() == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, bus.ChannelDegraded, states[len(states)-1])
}

func TestEngine_BusMarkReadAppliesOptimistically(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	backend := newFakeBackend()
	backend.serve("u-1", 2, notif("n-1", base), notif("n-2", base.Add(time.Minute)))
	conn := newFakeConn()

	engine := syncengine.New(testConfig(), conn, backend, newTestLogger())
	defer engine.Stop()

	require.NoError(t, engine.Start(context.Background(), "u-1"))
	require.Eventually(t, func() bool {
		return engine.Store().Len() == 2 && engine.Store().Unread() == 2
	}, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var announced []string
	engine.Bus().OnMarkRead(func(id string) {
		mu.Lock()
		announced = append(announced, id)
		mu.Unlock()
	})

	require.NoError(t, engine.MarkRead(context.Background(), "n-1"))

	assert.Equal(t, 1, engine.Store().Unread())
	assert.Equal(t, []string{"n-1"}, backend.markedIDs())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"n-1"}, announced)
}

func TestEngine_SetUserReplacesSession(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	backend := newFakeBackend()
	backend.serve("u-1", 1, notif("n-1", base))
	backend.serve("u-2", 1, notif("n-9", base))
	conn := newFakeConn()

	engine := syncengine.New(testConfig(), conn, backend, newTestLogger())
	defer engine.Stop()

	require.NoError(t, engine.Start(context.Background(), "u-1"))
	require.Eventually(t, func() bool {
		return engine.Store().Len() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, engine.SetUser(context.Background(), "u-2"))

	require.Eventually(t, func() bool {
		items := engine.Store().List()
		return len(items) == 1 && items[0].ID == "n-9"
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_StopIsSafeWhenNotStarted(t *testing.T) {
	engine := syncengine.New(testConfig(), newFakeConn(), newFakeBackend(), newTestLogger())
	engine.Stop()
	engine.Stop()
}
