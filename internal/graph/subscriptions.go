package graph

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Transcript subscription defaults.
const (
	TranscriptResource        = "communications/onlineMeetings/getAllTranscripts"
	TranscriptSubscriptionTTL = 4230 * time.Minute
)

// Subscription is a Graph change-notification subscription.
type Subscription struct {
	ID                       string    `json:"id,omitempty"`
	ChangeType               string    `json:"changeType,omitempty"`
	NotificationURL          string    `json:"notificationUrl,omitempty"`
	LifecycleNotificationURL string    `json:"lifecycleNotificationUrl,omitempty"`
	Resource                 string    `json:"resource,omitempty"`
	ExpirationDateTime       time.Time `json:"expirationDateTime"`
	ClientState              string    `json:"clientState,omitempty"`
}

// CreateSubscription creates a subscription.
func (c *Client) CreateSubscription(ctx context.Context, sub Subscription) (*Subscription, error) {
	var created Subscription
	if err := c.Request(ctx, http.MethodPost, "/subscriptions", sub, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// RenewSubscription extends a subscription's expiry.
func (c *Client) RenewSubscription(ctx context.Context, id string, expiration time.Time) (*Subscription, error) {
	body := map[string]string{"expirationDateTime": expiration.UTC().Format(time.RFC3339)}

	var renewed Subscription
	if err := c.Request(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(id), body, &renewed); err != nil {
		return nil, err
	}
	return &renewed, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	return c.Request(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil, nil)
}
