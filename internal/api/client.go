// Package api is the thin HTTP client for the notification REST endpoints.
// It handles bearer authentication, the session user-subject header, JSON
// (de)serialization and status checking; callers own retry policy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
)

// HeaderUserSub carries the session-bound user-subject identifier on every
// outbound request.
const HeaderUserSub = "X-User-Sub"

// TokenSource supplies the per-request auth metadata. The values are read on
// every call so a refreshed token is picked up without rebuilding the client.
type TokenSource interface {
	AccessToken() string
	UserSub() string
}

// StaticTokenSource is a TokenSource with fixed values, useful for daemons
// and tests.
type StaticTokenSource struct {
	Token string
	Sub   string
}

func (s StaticTokenSource) AccessToken() string { return s.Token }
func (s StaticTokenSource) UserSub() string     { return s.Sub }

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the notification service REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the given API base URL
// (e.g. https://gateway.example.com/notifications/api).
func NewClient(baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "api"),
	}
}

// ListOptions bound and filter a notification list fetch.
type ListOptions struct {
	// Status filters by read state: "all", "unread" or "read".
	Status string
	// Size caps the number of returned items.
	Size int
	// Page selects the zero-based result page.
	Page int
	// Since, when non-zero, asks only for items created after it.
	Since time.Time
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	status := o.Status
	if status == "" {
		status = "all"
	}
	q.Set("status", status)
	if o.Size > 0 {
		q.Set("size", strconv.Itoa(o.Size))
	}
	q.Set("page", strconv.Itoa(o.Page))
	if !o.Since.IsZero() {
		q.Set("since", o.Since.UTC().Format(time.RFC3339))
	}
	return q
}

// ListNotifications fetches a notification snapshot for the user.
func (c *Client) ListNotifications(ctx context.Context, userID string, opts ListOptions) (*notification.Snapshot, error) {
	path := fmt.Sprintf("/users/%s/notifications?%s", url.PathEscape(userID), opts.query().Encode())
	var snap notification.Snapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return &snap, nil
}

// UnreadCount fetches the authoritative unread counter via the dedicated
// lightweight endpoint.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	path := fmt.Sprintf("/users/%s/notifications/unreadCount", url.PathEscape(userID))
	var payload notification.UnreadPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return payload.Unread, nil
}

// MarkRead flags one notification as read on the backend.
func (c *Client) MarkRead(ctx context.Context, userID, notifID string) error {
	path := fmt.Sprintf("/users/%s/notifications/%s", url.PathEscape(userID), url.PathEscape(notifID))
	body := map[string]bool{"is_read": true}
	if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("mark read %s: %w", notifID, err)
	}
	return nil
}

// MarkAllRead flags every notification of the user as read on the backend.
func (c *Client) MarkAllRead(ctx context.Context, userID string) error {
	path := fmt.Sprintf("/users/%s/notifications/markAllRead", url.PathEscape(userID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sub := c.tokens.UserSub(); sub != "" {
		req.Header.Set(HeaderUserSub, sub)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
