// Package bus provides the process-wide signals the engine broadcasts after
// store mutations. It is a deliberate replacement for ad-hoc single-callback
// registration: every topic keeps an ordered list of listeners, each
// individually removable, so a late subscriber never silently evicts an
// earlier one.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
)

// ChannelState describes the health of the push channel.
type ChannelState string

const (
	// ChannelLive means the push channel is connected and subscribed.
	ChannelLive ChannelState = "live"
	// ChannelDegraded means the push channel gave up reconnecting and the
	// poll channel is the sole source of updates.
	ChannelDegraded ChannelState = "degraded"
)

type listener[T any] struct {
	id string
	fn func(T)
}

// topic is a minimal ordered fan-out. Publish invokes listeners in
// registration order, outside any engine lock.
type topic[T any] struct {
	mu        sync.RWMutex
	listeners []listener[T]
}

func (t *topic[T]) subscribe(fn func(T)) func() {
	id := uuid.NewString()
	t.mu.Lock()
	t.listeners = append(t.listeners, listener[T]{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

func (t *topic[T]) publish(v T) {
	t.mu.RLock()
	snapshot := make([]listener[T], len(t.listeners))
	copy(snapshot, t.listeners)
	t.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Bus carries the engine's broadcast topics. The store is the one writer;
// any number of UI widgets can listen without coupling to each other.
type Bus struct {
	received     topic[notification.Notification]
	unread       topic[int]
	channelState topic[ChannelState]
	markRead     topic[string]
	markAllRead  topic[struct{}]
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// OnNotification registers a listener for newly surfaced notifications.
// The returned func removes the listener.
func (b *Bus) OnNotification(fn func(notification.Notification)) func() {
	return b.received.subscribe(fn)
}

// OnUnreadCount registers a listener for unread counter changes.
func (b *Bus) OnUnreadCount(fn func(int)) func() {
	return b.unread.subscribe(fn)
}

// OnChannelState registers a listener for push channel health transitions.
func (b *Bus) OnChannelState(fn func(ChannelState)) func() {
	return b.channelState.subscribe(fn)
}

// OnMarkRead registers a listener for locally applied mark-read actions,
// keyed by notification id.
func (b *Bus) OnMarkRead(fn func(id string)) func() {
	return b.markRead.subscribe(fn)
}

// OnMarkAllRead registers a listener for locally applied mark-all-read actions.
func (b *Bus) OnMarkAllRead(fn func()) func() {
	return b.markAllRead.subscribe(func(struct{}) { fn() })
}

// PublishNotification broadcasts a newly surfaced notification.
func (b *Bus) PublishNotification(n notification.Notification) {
	b.received.publish(n)
}

// PublishUnreadCount broadcasts the current unread counter.
func (b *Bus) PublishUnreadCount(count int) {
	b.unread.publish(count)
}

// PublishChannelState broadcasts a push channel health transition.
func (b *Bus) PublishChannelState(state ChannelState) {
	b.channelState.publish(state)
}

// PublishMarkRead broadcasts a locally applied mark-read.
func (b *Bus) PublishMarkRead(id string) {
	b.markRead.publish(id)
}

// PublishMarkAllRead broadcasts a locally applied mark-all-read.
func (b *Bus) PublishMarkAllRead() {
	b.markAllRead.publish(struct{}{})
}
