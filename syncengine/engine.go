// Package syncengine assembles the client-side notification mirror: a push
// feed for latency, a poll loop for reliability, and one deduplicating store
// both feed into.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-notification-sync/internal/api"
	"github.com/tinywideclouds/go-notification-sync/internal/fetchcache"
	"github.com/tinywideclouds/go-notification-sync/internal/poll"
	"github.com/tinywideclouds/go-notification-sync/internal/push"
	"github.com/tinywideclouds/go-notification-sync/internal/store"
	"github.com/tinywideclouds/go-notification-sync/pkg/bus"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
	"github.com/tinywideclouds/go-notification-sync/syncengine/config"
)

// Backend is the full REST surface the engine consumes. *api.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	ListNotifications(ctx context.Context, userID string, opts api.ListOptions) (*notification.Snapshot, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notifID string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// Engine owns one user session across both sync channels. Start wires the
// session up, SetUser swaps it for another user, Stop tears it down.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	bus   *bus.Bus
	store *store.Store
	push  *push.Manager
	poll  *poll.Synchronizer
	cache *fetchcache.Cache

	mu      sync.Mutex
	userID  string
	running bool
}

// New assembles an engine from a transport connection and a REST backend.
func New(cfg *config.Config, conn push.Conn, backend Backend, logger *slog.Logger) *Engine {
	eventBus := bus.New()
	st := store.New(backend, eventBus, logger)

	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "syncengine"),
		bus:    eventBus,
		store:  st,
		push:   push.NewManager(conn, st, eventBus, cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxAttempts, logger),
		poll:   poll.New(backend, st, cfg.PollInterval, cfg.PageSize, logger),
		cache:  fetchcache.New(cfg.CacheTTL),
	}
}

// Start begins a session for userID. The poll loop always starts; a push
// connect failure is not fatal because the manager retries on its own and
// polling covers the gap.
func (e *Engine) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("syncengine: empty user id")
	}

	e.mu.Lock()
	if e.running && e.userID == userID {
		e.mu.Unlock()
		return nil
	}
	wasRunning := e.running
	e.userID = userID
	e.running = true
	e.mu.Unlock()

	if wasRunning {
		e.push.Stop()
		e.poll.Stop()
	}

	e.store.SetUser(userID)
	e.cache.InvalidateAll()

	e.poll.Start(ctx, userID)
	if err := e.push.Start(ctx, userID); err != nil {
		e.logger.Warn("Push channel unavailable at session start; polling only.",
			"user_id", userID, "err", err)
	}

	e.logger.Info("Sync session started.", "user_id", userID)
	return nil
}

// SetUser switches the session to a different user, tearing the previous
// session down first. Starting for the same user is a no-op.
func (e *Engine) SetUser(ctx context.Context, userID string) error {
	return e.Start(ctx, userID)
}

// Stop ends the session. The accumulated state stays readable; a later
// Start for a new user resets it.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.push.Stop()
	e.poll.Stop()
	e.logger.Info("Sync session stopped.")
}

// MarkRead flips one notification to read, optimistically and locally first.
// The mark-read announcement goes out on the bus either way; a backend
// rejection is surfaced and left for the next poll cycle to reconcile.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	return e.store.MarkRead(ctx, id)
}

// MarkAllRead is the bulk variant of MarkRead.
func (e *Engine) MarkAllRead(ctx context.Context) error {
	return e.store.MarkAllRead(ctx)
}

// Store exposes the canonical notification state.
func (e *Engine) Store() *store.Store { return e.store }

// Bus exposes the broadcast surface consumers subscribe on.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Cache exposes the shared request cache for ancillary fetches.
func (e *Engine) Cache() *fetchcache.Cache { return e.cache }

// Degraded reports whether the push channel has exhausted its reconnect
// budget, leaving polling as the sole channel.
func (e *Engine) Degraded() bool { return e.push.Degraded() }
