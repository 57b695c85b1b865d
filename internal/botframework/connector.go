package botframework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// MaxMessageLength is the text size the connector accepts comfortably for a
// single Teams message.
const MaxMessageLength = 25000

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ConnectorError is a non-2xx response from the Bot Connector.
type ConnectorError struct {
	StatusCode int
	Body       string
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("bot connector returned %d: %s", e.StatusCode, e.Body)
}

// outgoingMessage is the activity body posted to the connector.
type outgoingMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	TextFormat string `json:"textFormat"`
	ReplyToID  string `json:"replyToId,omitempty"`
}

// Connector posts messages to conversations through the Bot Connector API.
type Connector struct {
	httpClient HTTPDoer
}

// NewConnector creates a Connector. httpClient must attach a Bot Framework token.
func NewConnector(httpClient HTTPDoer) *Connector {
	return &Connector{httpClient: httpClient}
}

// SendMessage posts a new message into a conversation.
func (c *Connector) SendMessage(ctx context.Context, serviceURL, conversationID, text string) error {
	endpoint, err := activitiesURL(serviceURL, conversationID, "")
	if err != nil {
		return err
	}
	return c.post(ctx, endpoint, outgoingMessage{Type: TypeMessage, Text: text, TextFormat: "markdown"})
}

// ReplyToActivity posts a threaded reply to activityID.
func (c *Connector) ReplyToActivity(ctx context.Context, serviceURL, conversationID, activityID, text string) error {
	endpoint, err := activitiesURL(serviceURL, conversationID, activityID)
	if err != nil {
		return err
	}
	return c.post(ctx, endpoint, outgoingMessage{
		Type:       TypeMessage,
		Text:       text,
		TextFormat: "markdown",
		ReplyToID:  activityID,
	})
}

func (c *Connector) post(ctx context.Context, endpoint string, msg outgoingMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot connector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ConnectorError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return nil
}

// activitiesURL builds {serviceUrl}/v3/conversations/{id}/activities[/{activityId}].
func activitiesURL(serviceURL, conversationID, activityID string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("conversation id is required")
	}

	base, err := url.Parse(serviceURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("invalid service url %q", serviceURL)
	}
	if base.Scheme != "https" && base.Hostname() != "localhost" && base.Hostname() != "127.0.0.1" {
		return "", fmt.Errorf("service url must use https: %q", serviceURL)
	}

	endpoint := strings.TrimRight(base.String(), "/") + "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	if activityID != "" {
		endpoint += "/" + url.PathEscape(activityID)
	}
	return endpoint, nil
}
