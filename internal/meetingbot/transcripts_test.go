package meetingbot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/metrics"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

func testJob() worker.TranscriptJob {
	return worker.TranscriptJob{
		MeetingID:      "test-meeting-id",
		JoinURL:        testJoinURL,
		UserID:         "organizer-1",
		ServiceURL:     testServiceURL,
		ConversationID: testChatID,
	}
}

func TestFetchTranscript_DeliversLatestTranscript(t *testing.T) {
	tb := newTestBot(t, Config{})
	tb.graph.findByJoinURLFunc = func(userID, joinURL string) (*graph.OnlineMeeting, error) {
		return &graph.OnlineMeeting{ID: "online-1", Subject: "Weekly sync"}, nil
	}
	calls := 0
	tb.graph.listTranscriptsFunc = func(userID, meetingID string) ([]graph.Transcript, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []graph.Transcript{
			{ID: "t2", CreatedDateTime: "2026-02-13T21:00:00Z"},
			{ID: "t1", CreatedDateTime: "2026-02-13T20:00:00Z"},
		}, nil
	}
	tb.graph.transcriptContentFunc = func(userID, meetingID, transcriptID, format string) ([]byte, error) {
		assert.Equal(t, "online-1", meetingID)
		assert.Equal(t, "t2", transcriptID)
		assert.Equal(t, graph.TranscriptFormatVTT, format)
		return []byte("WEBVTT\n\n00:00:00.000 --> 00:00:01.000\n<v Alice>Hello</v>\n"), nil
	}

	result, err := tb.FetchTranscript(context.Background(), testJob())
	require.NoError(t, err)

	const key = "transcripts/2026-02-13/online-1-t2.vtt"
	assert.Equal(t, TranscriptPosted, result.Status)
	assert.Equal(t, key, result.Key)
	assert.Equal(t, []time.Duration{30 * time.Second, 15 * time.Second}, tb.sleeps)

	stored, ok := tb.transcripts.objects[key]
	require.True(t, ok)
	assert.Equal(t, "text/vtt", stored.ContentType)

	require.Len(t, tb.messenger.sent, 1)
	msg := tb.messenger.sent[0]
	assert.Equal(t, testServiceURL, msg.ServiceURL)
	assert.Equal(t, testChatID, msg.ConversationID)
	assert.Contains(t, msg.Text, "Meeting Transcript")
	assert.Contains(t, msg.Text, "<v Alice>Hello</v>")
	assert.Contains(t, msg.Text, "https://signed.example/"+key)

	saves := tb.sessions.saved("test-meeting-id")
	require.Len(t, saves, 1)
	assert.Equal(t, db.StatusTranscriptSaved, saves[0].Status)
	assert.Equal(t, key, saves[0].TranscriptKey)
	assert.Equal(t, "t2", saves[0].TranscriptID)

	require.Len(t, tb.notifier.events, 1)
	assert.Equal(t, notifiedTranscript{"online-1", "t2", "transcripts-bucket", key}, tb.notifier.events[0])
	assert.Equal(t, 1.0, tb.metrics.values[metrics.TranscriptsStored])
}

func TestFetchTranscript_GivesUpWhenNoTranscriptAppears(t *testing.T) {
	tb := newTestBot(t, Config{})
	tb.graph.findByJoinURLFunc = func(string, string) (*graph.OnlineMeeting, error) {
		return &graph.OnlineMeeting{ID: "online-1"}, nil
	}

	result, err := tb.FetchTranscript(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, TranscriptNotAvailable, result.Status)
	assert.Equal(t, 5, tb.graph.listTranscriptsCalls)
	assert.Empty(t, tb.transcripts.objects)
	assert.Empty(t, tb.messenger.sent)
	assert.Empty(t, tb.sessions.saves)
}

func TestFetchTranscript_MeetingNotFound(t *testing.T) {
	tb := newTestBot(t, Config{})

	result, err := tb.FetchTranscript(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, TranscriptNoMeeting, result.Status)
	assert.Zero(t, tb.graph.listTranscriptsCalls)
}

func TestFetchTranscript_ListFailureIsReturned(t *testing.T) {
	tb := newTestBot(t, Config{})
	tb.graph.findByJoinURLFunc = func(string, string) (*graph.OnlineMeeting, error) {
		return &graph.OnlineMeeting{ID: "online-1"}, nil
	}
	tb.graph.listTranscriptsFunc = func(string, string) ([]graph.Transcript, error) {
		return nil, errors.New("forbidden")
	}

	_, err := tb.FetchTranscript(context.Background(), testJob())

	require.Error(t, err)
	assert.Equal(t, 1, tb.graph.listTranscriptsCalls)
}

func TestFetchTranscript_StorageFailureStillPosts(t *testing.T) {
	tb := newTestBot(t, Config{})
	tb.transcripts.putErr = errors.New("access denied")
	tb.graph.findByJoinURLFunc = func(string, string) (*graph.OnlineMeeting, error) {
		return &graph.OnlineMeeting{ID: "online-1"}, nil
	}
	tb.graph.listTranscriptsFunc = func(string, string) ([]graph.Transcript, error) {
		return []graph.Transcript{{ID: "t1"}}, nil
	}

	result, err := tb.FetchTranscript(context.Background(), testJob())
	require.NoError(t, err)

	assert.Empty(t, result.Key)
	assert.True(t, containsText(tb.messenger.texts(), "Meeting Transcript"))
	assert.NotContains(t, tb.messenger.texts()[0], "Download full transcript")
	assert.Empty(t, tb.sessions.saves)
	assert.Empty(t, tb.notifier.events)
}

func TestMeetingEnd_FetchesInlineWithoutQueue(t *testing.T) {
	tb := newTestBot(t, Config{}, db.Session{MeetingID: "test-meeting-id", JoinURL: testJoinURL, OrganizerID: "organizer-1"})
	tb.graph.findByJoinURLFunc = func(string, string) (*graph.OnlineMeeting, error) {
		return &graph.OnlineMeeting{ID: "online-1"}, nil
	}
	tb.graph.listTranscriptsFunc = func(string, string) ([]graph.Transcript, error) {
		return []graph.Transcript{{ID: "t1"}}, nil
	}

	a := baseActivity("event")
	a["name"] = botframework.EventMeetingEnd
	a["value"] = map[string]any{"Id": "test-meeting-id"}

	resp := tb.Handle(context.Background(), activityEvent(t, a))

	assert.Equal(t, ActionMeetingEnd, decodeBody(t, resp)["action"])
	assert.Contains(t, tb.transcripts.objects, "transcripts/2026-02-13/online-1-t1.vtt")
	saves := tb.sessions.saved("test-meeting-id")
	require.Len(t, saves, 2)
	assert.Equal(t, db.StatusEnded, saves[0].Status)
	assert.Equal(t, db.StatusTranscriptSaved, saves[1].Status)
}

func TestTranscriptMessage_TruncatesToMessageLimit(t *testing.T) {
	content := strings.Repeat("é", botframework.MaxMessageLength)

	msg := transcriptMessage("Weekly sync", content, "https://signed.example/key")

	assert.LessOrEqual(t, len(msg), botframework.MaxMessageLength)
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, "(truncated)")
	assert.True(t, strings.HasSuffix(msg, "(https://signed.example/key)"))
}

func TestTranscriptMessage_LongSubjectStaysWithinLimit(t *testing.T) {
	subject := strings.Repeat("Ⱥ", botframework.MaxMessageLength)
	content := strings.Repeat("line of transcript\n", 3000)

	msg := transcriptMessage(subject, content, "https://signed.example/key")

	assert.LessOrEqual(t, len(msg), botframework.MaxMessageLength)
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, "…\n\n```\n")
	assert.Contains(t, msg, "(truncated)")
	assert.True(t, strings.HasSuffix(msg, "(https://signed.example/key)"))
}

func TestTranscriptMessage_ShortContentUnchanged(t *testing.T) {
	msg := transcriptMessage("", "WEBVTT", "")

	assert.Equal(t, "📝 **Meeting Transcript**\n\n```\nWEBVTT\n```", msg)
}
