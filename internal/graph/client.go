// Package graph is a small Microsoft Graph v1.0 REST client covering online
// meetings, transcripts, chat app installation, subscriptions and groups.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/retry"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("graph: not found")

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Error is a non-2xx Graph response.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("graph: %s %s returned %d", e.Method, e.Path, e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// StatusCode returns the HTTP status of a Graph error, or 0 for other errors.
func StatusCode(err error) int {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.StatusCode
	}
	return 0
}

// Client calls Microsoft Graph.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	backoff    retry.Backoff
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different Graph root, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithBackoff replaces the throttling/5xx retry schedule.
func WithBackoff(b retry.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client. httpClient is expected to attach the bearer token.
func NewClient(httpClient HTTPDoer, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		backoff: retry.Backoff{
			Attempts: 3,
			Base:     500 * time.Millisecond,
			Max:      4 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends a JSON request to path (relative to the v1.0 root, query
// string included) and decodes a JSON response into out when out is non-nil.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	data, err := c.do(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("graph: failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, accept string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("graph: failed to encode request: %w", err)
		}
	}

	var result []byte
	err := c.backoff.Do(ctx, func(ctx context.Context, attempt int) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", accept)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			gerr := newError(method, path, resp.StatusCode, data)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return retry.Retryable(gerr)
			}
			return gerr
		}

		result = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func newError(method, path string, status int, body []byte) *Error {
	gerr := &Error{StatusCode: status, Method: method, Path: path}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		gerr.Code = envelope.Error.Code
		gerr.Message = envelope.Error.Message
	}
	return gerr
}

// list is the OData collection envelope.
type list[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink,omitempty"`
}

// getAll follows @odata.nextLink up to maxPages pages.
func getAll[T any](ctx context.Context, c *Client, path string, maxPages int) ([]T, error) {
	var out []T
	for page := 0; page < maxPages && path != ""; page++ {
		var resp list[T]
		if err := c.Request(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Value...)
		path = strings.TrimPrefix(resp.NextLink, c.baseURL)
	}
	return out, nil
}
