package meetingbot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is an inbound HTTP request normalised from API Gateway REST (v1),
// HTTP API (v2) or Lambda Function URL events.
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
}

// Header returns a header value, matching the name case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// Response is the proxy-integration response shape shared by all three event sources.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// rawEvent covers the fields of every event shape the bot is invoked with.
type rawEvent struct {
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`

	Path           string `json:"path"`
	RawPath        string `json:"rawPath"`
	HTTPMethod     string `json:"httpMethod"`
	RequestContext struct {
		HTTP struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		} `json:"http"`
	} `json:"requestContext"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	Headers               map[string]string `json:"headers"`
	Body                  *string           `json:"body"`
	IsBase64Encoded       bool              `json:"isBase64Encoded"`
}

// parseEvent classifies a raw Lambda event. scheduled is true for an
// EventBridge scheduled event, in which case req is nil.
func parseEvent(raw []byte) (req *Request, scheduled bool, err error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, false, fmt.Errorf("invalid event: %w", err)
	}

	if ev.Source == "aws.events" && ev.DetailType == "Scheduled Event" {
		return nil, true, nil
	}

	req = &Request{
		Method:  strings.ToUpper(firstNonEmpty(ev.HTTPMethod, ev.RequestContext.HTTP.Method)),
		Path:    firstNonEmpty(ev.RawPath, ev.Path, ev.RequestContext.HTTP.Path),
		Query:   ev.QueryStringParameters,
		Headers: make(map[string]string, len(ev.Headers)),
	}
	if req.Query == nil {
		req.Query = map[string]string{}
	}
	for k, v := range ev.Headers {
		req.Headers[strings.ToLower(k)] = v
	}

	if ev.Body != nil {
		if ev.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(*ev.Body)
			if err != nil {
				return nil, false, fmt.Errorf("invalid base64 body: %w", err)
			}
			req.Body = decoded
		} else {
			req.Body = []byte(*ev.Body)
		}
	}

	return req, false, nil
}

// matchRoute reports whether path is route, allowing a stage prefix and a trailing slash.
func matchRoute(path, route string) bool {
	path = strings.TrimRight(path, "/")
	return path == route || strings.HasSuffix(path, route)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, body any) Response {
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(`{"status":"error"}`)
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(data),
	}
}

func textResponse(status int, body string) Response {
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "text/plain; charset=utf-8"},
		Body:       body,
	}
}

func statusResponse(status int, state string) Response {
	return jsonResponse(status, map[string]string{"status": state})
}

func actionResponse(action string) Response {
	return jsonResponse(200, map[string]string{"status": "ok", "action": action})
}
