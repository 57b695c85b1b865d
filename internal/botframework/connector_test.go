package botframework

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedPost struct {
	path string
	body map[string]any
}

func newConnectorServer(t *testing.T, status int) (*httptest.Server, *[]recordedPost) {
	t.Helper()
	var posts []recordedPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		posts = append(posts, recordedPost{path: r.URL.EscapedPath(), body: body})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func TestSendMessage(t *testing.T) {
	srv, posts := newConnectorServer(t, http.StatusCreated)
	c := NewConnector(srv.Client())

	err := c.SendMessage(context.Background(), srv.URL+"/test/", "19:meeting_test@thread.v2", "hello")
	require.NoError(t, err)
	require.Len(t, *posts, 1)
	require.Equal(t, "/test/v3/conversations/19:meeting_test@thread.v2/activities", (*posts)[0].path)
	require.Equal(t, "message", (*posts)[0].body["type"])
	require.Equal(t, "hello", (*posts)[0].body["text"])
}

func TestReplyToActivity(t *testing.T) {
	srv, posts := newConnectorServer(t, http.StatusOK)
	c := NewConnector(srv.Client())

	err := c.ReplyToActivity(context.Background(), srv.URL, "conv-1", "activity-id-123", "reply")
	require.NoError(t, err)
	require.Equal(t, "/v3/conversations/conv-1/activities/activity-id-123", (*posts)[0].path)
	require.Equal(t, "activity-id-123", (*posts)[0].body["replyToId"])
}

func TestSendMessage_ErrorStatus(t *testing.T) {
	srv, _ := newConnectorServer(t, http.StatusForbidden)
	c := NewConnector(srv.Client())

	err := c.SendMessage(context.Background(), srv.URL, "conv-1", "x")
	var cerr *ConnectorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, http.StatusForbidden, cerr.StatusCode)
}

func TestActivitiesURL_Validation(t *testing.T) {
	_, err := activitiesURL("http://evil.example.com/", "conv", "")
	require.Error(t, err)

	_, err = activitiesURL("not a url", "conv", "")
	require.Error(t, err)

	_, err = activitiesURL("https://smba.trafficmanager.net/amer/", "", "")
	require.Error(t, err)

	u, err := activitiesURL("https://smba.trafficmanager.net/amer/", "a:b", "1")
	require.NoError(t, err)
	require.Equal(t, "https://smba.trafficmanager.net/amer/v3/conversations/a:b/activities/1", u)
}
