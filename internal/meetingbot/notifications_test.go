package meetingbot

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
)

func transcriptNotification(state string) map[string]any {
	return map[string]any{
		"value": []any{
			map[string]any{
				"subscriptionId": "sub-1",
				"clientState":    state,
				"changeType":     "created",
				"resource":       "users/u1/onlineMeetings('m1')/transcripts('t1')",
				"resourceData":   map[string]any{"@odata.type": "#Microsoft.Graph.callTranscript"},
			},
		},
	}
}

func TestNotifications_RejectsWrongClientState(t *testing.T) {
	tb := newTestBot(t, Config{})

	resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteNotifications, transcriptNotification("wrong-state"), nil))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Zero(t, tb.graph.getOnlineMeetingCalls)
}

func TestNotifications_InvalidJSON(t *testing.T) {
	tb := newTestBot(t, Config{})

	resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteNotifications, "{oops", nil))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifications_DeliversTranscriptToMeetingChat(t *testing.T) {
	tb := newTestBot(t, Config{}, db.Session{
		MeetingID:      db.ConversationKey(testChatID),
		ServiceURL:     testServiceURL,
		ConversationID: testChatID,
	})
	tb.graph.getOnlineMeetingFunc = func(userID, meetingID string) (*graph.OnlineMeeting, error) {
		assert.Equal(t, "u1", userID)
		assert.Equal(t, "m1", meetingID)
		return &graph.OnlineMeeting{ID: "m1", Subject: "Planning", ChatInfo: &graph.ChatInfo{ThreadID: testChatID}}, nil
	}

	resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteNotifications, transcriptNotification("expected-state"), nil))

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, tb.messenger.sent, 1)
	assert.Equal(t, testServiceURL, tb.messenger.sent[0].ServiceURL)
	assert.Equal(t, testChatID, tb.messenger.sent[0].ConversationID)
	assert.Contains(t, tb.messenger.sent[0].Text, "Meeting Transcript: Planning")

	key := "transcripts/2026-02-13/m1-t1.vtt"
	assert.Contains(t, tb.transcripts.objects, key)
	saves := tb.sessions.saved(db.ConversationKey(testChatID))
	require.Len(t, saves, 1)
	assert.Equal(t, db.StatusTranscriptSaved, saves[0].Status)
	assert.Equal(t, key, saves[0].TranscriptKey)
}

func TestNotifications_CommunicationsResourceUsesOrganizer(t *testing.T) {
	tb := newTestBot(t, Config{})
	var gotUser string
	tb.graph.getOnlineMeetingFunc = func(userID, meetingID string) (*graph.OnlineMeeting, error) {
		gotUser = userID
		return &graph.OnlineMeeting{ID: meetingID}, nil
	}
	body := map[string]any{
		"value": []any{
			map[string]any{
				"clientState": "expected-state",
				"resource":    "communications/onlineMeetings('m2')/transcripts('t2')",
				"resourceData": map[string]any{
					"meetingOrganizer": map[string]any{"user": map[string]any{"id": "organizer-9"}},
				},
			},
		},
	}

	resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteNotifications, body, nil))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "organizer-9", gotUser)
	assert.Contains(t, tb.transcripts.objects, "transcripts/2026-02-13/m2-t2.vtt")
}

func TestNotifications_IgnoresOtherResources(t *testing.T) {
	tb := newTestBot(t, Config{})
	body := map[string]any{
		"value": []any{
			map[string]any{"clientState": "expected-state", "resource": "users/u1/messages/abc"},
		},
	}

	resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteNotifications, body, nil))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Zero(t, tb.graph.getOnlineMeetingCalls)
}

func TestNotifications_UnconfiguredClientStateRejectsAll(t *testing.T) {
	tb := newTestBot(t, Config{})
	tb.cfg.NotificationClientState = ""

	resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteNotifications, transcriptNotification(""), nil))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Zero(t, tb.graph.getOnlineMeetingCalls)
}

func lifecycleBody(state, event string) map[string]any {
	return map[string]any{
		"value": []any{
			map[string]any{"subscriptionId": "sub-1", "clientState": state, "lifecycleEvent": event},
		},
	}
}

func TestLifecycle(t *testing.T) {
	t.Run("reauthorization renews", func(t *testing.T) {
		tb := newTestBot(t, Config{})

		resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteLifecycle, lifecycleBody("expected-state", LifecycleReauthorizationRequired), nil))

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, []string{"sub-1"}, tb.subscriptions.renewed)
		assert.Zero(t, tb.subscriptions.recreated)
	})

	t.Run("removal recreates", func(t *testing.T) {
		tb := newTestBot(t, Config{})

		resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteLifecycle, lifecycleBody("expected-state", LifecycleSubscriptionRemoved), nil))

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, 1, tb.subscriptions.recreated)
	})

	t.Run("missed is only logged", func(t *testing.T) {
		tb := newTestBot(t, Config{})

		resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteLifecycle, lifecycleBody("expected-state", LifecycleMissed), nil))

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Empty(t, tb.subscriptions.renewed)
		assert.Zero(t, tb.subscriptions.recreated)
	})

	t.Run("wrong client state is ignored", func(t *testing.T) {
		tb := newTestBot(t, Config{})

		resp := tb.Handle(context.Background(), httpEvent(t, "POST", RouteLifecycle, lifecycleBody("nope", LifecycleReauthorizationRequired), nil))

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Empty(t, tb.subscriptions.renewed)
	})
}
