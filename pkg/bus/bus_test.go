package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-sync/pkg/bus"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
)

func TestBus_MultipleListeners(t *testing.T) {
	b := bus.New()

	var order []string
	b.OnNotification(func(n notification.Notification) {
		order = append(order, "first:"+n.ID)
	})
	b.OnNotification(func(n notification.Notification) {
		order = append(order, "second:"+n.ID)
	})

	b.PublishNotification(notification.Notification{ID: "n-1"})

	// Both listeners fire, in registration order. Registering a second
	// listener must not evict the first.
	require.Equal(t, []string{"first:n-1", "second:n-1"}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := bus.New()

	var counts []int
	remove := b.OnUnreadCount(func(n int) {
		counts = append(counts, n)
	})

	b.PublishUnreadCount(3)
	remove()
	b.PublishUnreadCount(4)

	assert.Equal(t, []int{3}, counts)

	// Removing twice is harmless.
	remove()
}

func TestBus_ChannelStateAndMarkTopics(t *testing.T) {
	b := bus.New()

	var states []bus.ChannelState
	b.OnChannelState(func(s bus.ChannelState) { states = append(states, s) })

	var readIDs []string
	b.OnMarkRead(func(id string) { readIDs = append(readIDs, id) })

	allRead := 0
	b.OnMarkAllRead(func() { allRead++ })

	b.PublishChannelState(bus.ChannelLive)
	b.PublishChannelState(bus.ChannelDegraded)
	b.PublishMarkRead("n-7")
	b.PublishMarkAllRead()

	assert.Equal(t, []bus.ChannelState{bus.ChannelLive, bus.ChannelDegraded}, states)
	assert.Equal(t, []string{"n-7"}, readIDs)
	assert.Equal(t, 1, allRead)
}
