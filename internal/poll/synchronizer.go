// Package poll implements the interval-driven pull channel. It is the
// baseline sync mechanism and the sole channel once push degrades; the timer
// itself rate-limits retries, so a failed cycle needs no extra backoff.
package poll

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-notification-sync/internal/api"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
)

const (
	// DefaultInterval is the cycle period when none is configured.
	DefaultInterval = 10 * time.Second
	// DefaultPageSize bounds each snapshot fetch.
	DefaultPageSize = 50
)

// Backend is the slice of the REST client a cycle needs: the bounded list
// fetch and the dedicated lightweight count endpoint.
type Backend interface {
	ListNotifications(ctx context.Context, userID string, opts api.ListOptions) (*notification.Snapshot, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Sink is where observed facts go. Ingest announces a notification as new;
// Backfill records it silently for items at or before the watermark.
type Sink interface {
	Ingest(n notification.Notification) bool
	Backfill(n notification.Notification) bool
	SetUnreadCount(count int)
}

// Synchronizer periodically fetches the authoritative snapshot and unread
// count for one user. Start for a new user tears the previous run down
// first, so timers never leak across session changes.
type Synchronizer struct {
	backend  Backend
	sink     Sink
	interval time.Duration
	pageSize int
	logger   *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	watermark time.Time
}

// New creates an idle synchronizer. interval <= 0 selects DefaultInterval;
// pageSize <= 0 selects DefaultPageSize.
func New(backend Backend, sink Sink, interval time.Duration, pageSize int, logger *slog.Logger) *Synchronizer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Synchronizer{
		backend:  backend,
		sink:     sink,
		interval: interval,
		pageSize: pageSize,
		logger:   logger.With("component", "poll"),
	}
}

// Start begins polling for the user: an immediate cycle, then one per
// interval. Any previous run is stopped and its watermark discarded.
func (s *Synchronizer) Start(ctx context.Context, userID string) {
	s.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.watermark = time.Time{}
	s.mu.Unlock()

	s.logger.Info("Polling started.", "user_id", userID, "interval", s.interval)

	go func() {
		defer close(done)
		s.cycle(runCtx, userID)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.cycle(runCtx, userID)
			}
		}
	}()
}

// Stop halts polling and releases the timer. Safe when already stopped.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Polling stopped.")
}

// cycle performs the two fetches of one sync pass. A failed cycle leaves
// prior state and the watermark untouched; the next tick retries naturally.
func (s *Synchronizer) cycle(ctx context.Context, userID string) {
	started := time.Now()

	s.mu.Lock()
	watermark := s.watermark
	s.mu.Unlock()

	snap, err := s.backend.ListNotifications(ctx, userID, api.ListOptions{
		Status: "all",
		Size:   s.pageSize,
		Since:  watermark,
	})
	if err != nil {
		s.logger.Warn("Poll list fetch failed.", "user_id", userID, "err", err)
		return
	}

	count, err := s.backend.UnreadCount(ctx, userID)
	if err != nil {
		s.logger.Warn("Poll count fetch failed.", "user_id", userID, "err", err)
		return
	}

	// Oldest first, so insert-at-head leaves the store most-recent-first.
	items := make([]notification.Notification, len(snap.Items))
	copy(items, snap.Items)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	fresh := 0
	for _, n := range items {
		// Only items strictly newer than the watermark surface as "new";
		// everything else is already-known and must not re-trigger side
		// effects.
		if n.CreatedAt.After(watermark) {
			if s.sink.Ingest(n) {
				fresh++
			}
		} else {
			s.sink.Backfill(n)
		}
	}
	s.sink.SetUnreadCount(count)

	s.mu.Lock()
	s.watermark = started
	s.mu.Unlock()

	s.logger.Debug("Poll cycle complete.", "user_id", userID, "items", len(items), "fresh", fresh, "unread", count)
}
