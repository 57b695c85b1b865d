package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ChatInfo identifies the meeting chat thread.
type ChatInfo struct {
	ThreadID string `json:"threadId"`
}

// OnlineMeeting is the subset of onlineMeeting properties the bot uses.
type OnlineMeeting struct {
	ID                  string    `json:"id"`
	Subject             string    `json:"subject,omitempty"`
	JoinWebURL          string    `json:"joinWebUrl,omitempty"`
	ChatInfo            *ChatInfo `json:"chatInfo,omitempty"`
	RecordAutomatically bool      `json:"recordAutomatically,omitempty"`
	AllowTranscription  bool      `json:"allowTranscription,omitempty"`
}

// ThreadID returns the chat thread id, or "" when Graph returned none.
func (m *OnlineMeeting) ThreadID() string {
	if m == nil || m.ChatInfo == nil {
		return ""
	}
	return m.ChatInfo.ThreadID
}

// MeetingUpdate is a PATCH body for an online meeting.
type MeetingUpdate struct {
	RecordAutomatically bool `json:"recordAutomatically"`
	AllowTranscription  bool `json:"allowTranscription"`
}

// EnableRecording turns on automatic recording and transcription.
var EnableRecording = MeetingUpdate{RecordAutomatically: true, AllowTranscription: true}

// Transcript is a callTranscript list entry.
type Transcript struct {
	ID              string `json:"id"`
	MeetingID       string `json:"meetingId,omitempty"`
	CreatedDateTime string `json:"createdDateTime,omitempty"`
}

// CalendarEvent is the subset of a calendar event needed to find online meetings.
type CalendarEvent struct {
	ID              string `json:"id"`
	Subject         string `json:"subject"`
	IsOnlineMeeting bool   `json:"isOnlineMeeting"`
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
	Start struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
}

// JoinURL returns the Teams join link, or "".
func (e CalendarEvent) JoinURL() string {
	if e.OnlineMeeting == nil {
		return ""
	}
	return e.OnlineMeeting.JoinURL
}

// TranscriptFormatVTT is the default transcript content type.
const TranscriptFormatVTT = "text/vtt"

func userMeetingsPath(userID string) string {
	return "/users/" + url.PathEscape(userID) + "/onlineMeetings"
}

// GetOnlineMeeting fetches one meeting with its chat info.
func (c *Client) GetOnlineMeeting(ctx context.Context, userID, meetingID string) (*OnlineMeeting, error) {
	path := userMeetingsPath(userID) + "/" + url.PathEscape(meetingID) +
		"?$select=id,subject,joinWebUrl,chatInfo"

	var meeting OnlineMeeting
	if err := c.Request(ctx, http.MethodGet, path, nil, &meeting); err != nil {
		return nil, err
	}
	return &meeting, nil
}

// FindOnlineMeetingByJoinURL resolves a join link to the organizer's online meeting.
func (c *Client) FindOnlineMeetingByJoinURL(ctx context.Context, userID, joinURL string) (*OnlineMeeting, error) {
	filter := fmt.Sprintf("JoinWebUrl eq '%s'", strings.ReplaceAll(joinURL, "'", "''"))
	path := userMeetingsPath(userID) + "?$filter=" + queryEscape(filter)

	var resp list[OnlineMeeting]
	if err := c.Request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 {
		return nil, ErrNotFound
	}
	return &resp.Value[0], nil
}

// UpdateOnlineMeeting patches meeting options.
func (c *Client) UpdateOnlineMeeting(ctx context.Context, userID, meetingID string, update MeetingUpdate) error {
	path := userMeetingsPath(userID) + "/" + url.PathEscape(meetingID)
	return c.Request(ctx, http.MethodPatch, path, update, nil)
}

// ListTranscripts lists transcripts for a meeting using the user-scoped endpoint.
func (c *Client) ListTranscripts(ctx context.Context, userID, meetingID string) ([]Transcript, error) {
	path := userMeetingsPath(userID) + "/" + url.PathEscape(meetingID) + "/transcripts"
	return getAll[Transcript](ctx, c, path, 5)
}

// GetTranscriptContent downloads transcript content. format defaults to text/vtt.
func (c *Client) GetTranscriptContent(ctx context.Context, userID, meetingID, transcriptID, format string) ([]byte, error) {
	if format == "" {
		format = TranscriptFormatVTT
	}
	path := userMeetingsPath(userID) + "/" + url.PathEscape(meetingID) +
		"/transcripts/" + url.PathEscape(transcriptID) + "/content"
	return c.do(ctx, http.MethodGet, path, format, nil)
}

// ListUpcomingOnlineMeetings returns the user's calendar events starting
// within lookahead that carry a Teams join link.
func (c *Client) ListUpcomingOnlineMeetings(ctx context.Context, userID string, lookahead time.Duration) ([]CalendarEvent, error) {
	start := c.now().UTC()
	end := start.Add(lookahead)

	query := url.Values{}
	query.Set("startDateTime", start.Format(time.RFC3339))
	query.Set("endDateTime", end.Format(time.RFC3339))
	path := "/users/" + url.PathEscape(userID) + "/calendarView?" + query.Encode() +
		"&$select=id,subject,start,isOnlineMeeting,onlineMeeting&$top=50"

	events, err := getAll[CalendarEvent](ctx, c, path, 5)
	if err != nil {
		return nil, err
	}

	var online []CalendarEvent
	for _, ev := range events {
		if ev.IsOnlineMeeting && ev.JoinURL() != "" {
			online = append(online, ev)
		}
	}
	return online, nil
}

// queryEscape escapes an OData expression, keeping spaces as %20.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
