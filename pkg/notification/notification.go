// Package notification contains the public domain model shared by the
// push and poll channels of the synchronization engine.
package notification

import "time"

// Notification is a single user-facing notification as delivered by the
// backend. The ID is server-assigned and stable across both channels, which
// is what makes cross-channel deduplication possible.
type Notification struct {
	// ID is the unique, server-assigned identifier.
	ID string `json:"id"`

	// Title is the short headline text.
	Title string `json:"title"`

	// Body is the full notification text.
	Body string `json:"body"`

	// Category is a badge tag used for filtering and icon selection
	// (e.g. "reminder", "movement").
	Category string `json:"category"`

	// CreatedAt is when the backend generated the notification.
	CreatedAt time.Time `json:"created_at"`

	// Read indicates whether the user has seen this notification.
	// Read is monotonic: there is no un-read action.
	Read bool `json:"read"`
}

// Snapshot is the response of the notification list endpoint. Unread is the
// authoritative unread count at the time the list was assembled; the two can
// transiently disagree with a later count fetch and converge on the next sync.
type Snapshot struct {
	Unread int            `json:"unread"`
	Items  []Notification `json:"items"`
}

// UnreadPayload is the response of the dedicated unread-count endpoint.
type UnreadPayload struct {
	Unread int `json:"unread"`
}

// CountFrame is the body of an unread-count push frame.
type CountFrame struct {
	UnreadCount int `json:"unreadCount"`
}
