// Package store holds the canonical, deduplicated notification list and the
// unread counter. Both channels route every observed fact through here; the
// rest of the application only ever reads this state.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-notification-sync/internal/api"
	"github.com/tinywideclouds/go-notification-sync/pkg/bus"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
)

// defaultReloadLimit bounds the snapshot size fetched by Reload.
const defaultReloadLimit = 50

// Backend is the slice of the REST client the store needs for mutations and
// for the authoritative reload after a failed bulk mutation.
type Backend interface {
	MarkRead(ctx context.Context, userID, notifID string) error
	MarkAllRead(ctx context.Context, userID string) error
	ListNotifications(ctx context.Context, userID string, opts api.ListOptions) (*notification.Snapshot, error)
}

// Store is the single reconciliation point for push and poll updates.
type Store struct {
	backend Backend
	bus     *bus.Bus
	logger  *slog.Logger

	mu     sync.Mutex
	userID string
	items  []notification.Notification // most-recent-first
	known  map[string]bool             // membership by id
	unread int
}

// New creates an empty store bound to a backend and the broadcast bus.
func New(backend Backend, eventBus *bus.Bus, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		bus:     eventBus,
		logger:  logger.With("component", "store"),
		known:   make(map[string]bool),
	}
}

// SetUser resets all state for a new session user. Notifications never leak
// across sessions.
func (s *Store) SetUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.items = nil
	s.known = make(map[string]bool)
	s.unread = 0
	s.mu.Unlock()
}

// Ingest inserts a notification at the head of the list and broadcasts it as
// newly received. If the id is already present the existing entry wins
// entirely, so a snapshot replay can never revert a locally applied read
// flag. Reports whether the id was new.
func (s *Store) Ingest(n notification.Notification) bool {
	if !s.insert(n) {
		return false
	}
	s.bus.PublishNotification(n)
	return true
}

// Backfill is Ingest without the broadcast, for items a poll cycle classified
// as already-known (at or before the watermark).
func (s *Store) Backfill(n notification.Notification) bool {
	return s.insert(n)
}

func (s *Store) insert(n notification.Notification) bool {
	if n.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[n.ID] {
		return false
	}
	s.known[n.ID] = true
	s.items = append([]notification.Notification{n}, s.items...)
	return true
}

// SetUnreadCount overwrites the counter from either channel. Last write wins;
// convergence is guaranteed by the next successful sync of either channel.
func (s *Store) SetUnreadCount(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	changed := s.unread != count
	s.unread = count
	s.mu.Unlock()

	if changed {
		s.bus.PublishUnreadCount(count)
	}
}

// MarkRead applies the optimistic local flip (flag set, counter floored at
// zero) and then tells the backend. On backend failure the local state is
// kept and the error surfaced; the next poll cycle is the correctness
// backstop. Marking an unknown or already-read id is a no-op.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	userID := s.userID
	idx := s.indexOf(id)
	if idx < 0 || s.items[idx].Read {
		s.mu.Unlock()
		return nil
	}
	s.items[idx].Read = true
	if s.unread > 0 {
		s.unread--
	}
	count := s.unread
	s.mu.Unlock()

	s.bus.PublishMarkRead(id)
	s.bus.PublishUnreadCount(count)

	if err := s.backend.MarkRead(ctx, userID, id); err != nil {
		s.logger.Warn("Backend rejected mark-read; keeping optimistic state.", "id", id, "err", err)
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

// MarkAllRead is the bulk variant. A rejected bulk mutation is higher-risk,
// so failure triggers an eager Reload to bound drift from server truth.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()

	s.bus.PublishMarkAllRead()
	s.bus.PublishUnreadCount(0)

	if err := s.backend.MarkAllRead(ctx, userID); err != nil {
		s.logger.Warn("Backend rejected mark-all-read; reloading server state.", "err", err)
		if reloadErr := s.Reload(ctx); reloadErr != nil {
			s.logger.Error("Corrective reload failed.", "err", reloadErr)
		}
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// Reload replaces local state with an authoritative unread snapshot from the
// backend. It is the explicit correction path: server truth wins wholesale.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	snap, err := s.backend.ListNotifications(ctx, userID, api.ListOptions{
		Status: "unread",
		Size:   defaultReloadLimit,
	})
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	s.mu.Lock()
	s.items = make([]notification.Notification, len(snap.Items))
	copy(s.items, snap.Items)
	s.known = make(map[string]bool, len(snap.Items))
	for _, n := range snap.Items {
		s.known[n.ID] = true
	}
	changed := s.unread != snap.Unread
	s.unread = snap.Unread
	count := s.unread
	s.mu.Unlock()

	if changed {
		s.bus.PublishUnreadCount(count)
	}
	return nil
}

// Remove deletes a notification outright, keyed by id. A removed unread entry
// also releases its slot in the counter.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	wasUnread := !s.items[idx].Read
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	delete(s.known, id)
	if wasUnread && s.unread > 0 {
		s.unread--
	}
	count := s.unread
	s.mu.Unlock()

	if wasUnread {
		s.bus.PublishUnreadCount(count)
	}
	return true
}

// List returns a copy of the ordered list, most-recent-first.
func (s *Store) List() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Unread returns the current counter value.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Len returns the number of held notifications.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// indexOf must be called with the lock held.
func (s *Store) indexOf(id string) int {
	if !s.known[id] {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
