// Package subscription keeps the tenant-wide Graph transcript subscription alive.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
)

// Actions reported in a Result.
const (
	ActionCreated   = "created"
	ActionRenewed   = "renewed"
	ActionUnchanged = "unchanged"
)

// Graph is the subset of the Graph client used for subscriptions.
type Graph interface {
	CreateSubscription(ctx context.Context, sub graph.Subscription) (*graph.Subscription, error)
	RenewSubscription(ctx context.Context, id string, expiration time.Time) (*graph.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Store persists the subscription record.
type Store interface {
	Get(ctx context.Context, meetingID string) (*db.Session, error)
	Save(ctx context.Context, session db.Session) (*db.Session, error)
}

// Config describes the desired subscription.
type Config struct {
	NotificationURL string
	LifecycleURL    string
	ClientState     string
	Resource        string
	TTL             time.Duration
	RenewThreshold  time.Duration
	Logger          *slog.Logger
}

// Result describes what Ensure, Renew or Recreate did.
type Result struct {
	Action         string
	SubscriptionID string
	ExpiresAt      time.Time
	Remaining      time.Duration
}

// Manager creates and renews the transcript subscription.
type Manager struct {
	graph Graph
	store Store
	cfg   Config
	now   func() time.Time
}

// NewManager creates a Manager, defaulting the resource, TTL and renewal threshold.
func NewManager(g Graph, store Store, cfg Config) *Manager {
	if cfg.Resource == "" {
		cfg.Resource = graph.TranscriptResource
	}
	if cfg.TTL <= 0 {
		cfg.TTL = graph.TranscriptSubscriptionTTL
	}
	if cfg.RenewThreshold <= 0 {
		cfg.RenewThreshold = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{graph: g, store: store, cfg: cfg, now: time.Now}
}

// Ensure creates the subscription when none is recorded or it has expired,
// and renews it when it expires within the renewal threshold.
func (m *Manager) Ensure(ctx context.Context) (*Result, error) {
	rec, err := m.store.Get(ctx, db.SubscriptionTranscriptsKey)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to read subscription record: %w", err)
	}
	if rec == nil || rec.SubscriptionID == "" {
		return m.Recreate(ctx)
	}

	expires, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil || !expires.After(m.now()) {
		return m.Recreate(ctx)
	}

	remaining := expires.Sub(m.now())
	if remaining < m.cfg.RenewThreshold {
		return m.Renew(ctx, rec.SubscriptionID)
	}

	return &Result{
		Action:         ActionUnchanged,
		SubscriptionID: rec.SubscriptionID,
		ExpiresAt:      expires,
		Remaining:      remaining,
	}, nil
}

// Renew extends subscription id by a full TTL. A subscription Graph no longer
// knows about is recreated.
func (m *Manager) Renew(ctx context.Context, id string) (*Result, error) {
	sub, err := m.graph.RenewSubscription(ctx, id, m.now().Add(m.cfg.TTL))
	if graph.StatusCode(err) == http.StatusNotFound {
		return m.Recreate(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to renew subscription %s: %w", id, err)
	}
	if sub.ID == "" {
		sub.ID = id
	}
	return m.record(ctx, ActionRenewed, sub)
}

// Recreate creates a new subscription unconditionally, first deleting the
// recorded one. A failed delete is logged and does not block the create.
func (m *Manager) Recreate(ctx context.Context) (*Result, error) {
	m.deleteRecorded(ctx)

	sub, err := m.graph.CreateSubscription(ctx, graph.Subscription{
		ChangeType:               "created",
		NotificationURL:          m.cfg.NotificationURL,
		LifecycleNotificationURL: m.cfg.LifecycleURL,
		Resource:                 m.cfg.Resource,
		ExpirationDateTime:       m.now().Add(m.cfg.TTL).UTC(),
		ClientState:              m.cfg.ClientState,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return m.record(ctx, ActionCreated, sub)
}

func (m *Manager) deleteRecorded(ctx context.Context) {
	rec, err := m.store.Get(ctx, db.SubscriptionTranscriptsKey)
	if err != nil || rec == nil || rec.SubscriptionID == "" {
		return
	}

	err = m.graph.DeleteSubscription(ctx, rec.SubscriptionID)
	if err != nil && graph.StatusCode(err) != http.StatusNotFound {
		m.cfg.Logger.WarnContext(ctx, "Failed to delete stale subscription",
			slog.String("subscription_id", rec.SubscriptionID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) record(ctx context.Context, action string, sub *graph.Subscription) (*Result, error) {
	expires := sub.ExpirationDateTime
	if expires.IsZero() {
		expires = m.now().Add(m.cfg.TTL)
	}

	if _, err := m.store.Save(ctx, db.Session{
		MeetingID:      db.SubscriptionTranscriptsKey,
		Status:         db.StatusSubscribed,
		SubscriptionID: sub.ID,
		ExpiresAt:      expires.UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("failed to record subscription: %w", err)
	}

	return &Result{
		Action:         action,
		SubscriptionID: sub.ID,
		ExpiresAt:      expires,
		Remaining:      expires.Sub(m.now()),
	}, nil
}
