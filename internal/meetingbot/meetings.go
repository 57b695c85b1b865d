package meetingbot

import (
	"context"
	"log/slog"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

func (b *Bot) handleMeetingStart(ctx context.Context, a *botframework.Activity) Response {
	meetingID := a.MeetingID()
	session := db.Session{
		MeetingID:      meetingID,
		Status:         db.StatusActive,
		EventType:      "meetingStart",
		JoinURL:        a.JoinURL(),
		OrganizerID:    a.From.AADObjectID,
		ServiceURL:     a.ServiceURL,
		ConversationID: a.Conversation.ID,
		Title:          a.Title(),
	}

	if meetingID != "" {
		b.saveSession(ctx, session)
	} else {
		b.logger.WarnContext(ctx, "meetingStart without meeting id")
	}
	if a.Conversation.ID != "" {
		alias := session
		alias.MeetingID = db.ConversationKey(a.Conversation.ID)
		b.saveSession(ctx, alias)
	}

	b.send(ctx, a, "🔴 This meeting will be recorded and transcribed. The transcript will be posted in this chat after the meeting ends.")
	return actionResponse(ActionMeetingStart)
}

func (b *Bot) handleMeetingEnd(ctx context.Context, a *botframework.Activity) Response {
	meetingID := a.MeetingID()
	session := b.loadSession(ctx, a)
	if session == nil {
		session = &db.Session{}
	}

	job := worker.TranscriptJob{
		MeetingID:      meetingID,
		JoinURL:        firstNonEmpty(session.JoinURL, a.JoinURL()),
		UserID:         firstNonEmpty(session.OrganizerID, a.From.AADObjectID),
		ServiceURL:     firstNonEmpty(session.ServiceURL, a.ServiceURL),
		ConversationID: firstNonEmpty(session.ConversationID, a.Conversation.ID),
	}

	if meetingID != "" {
		b.saveSession(ctx, db.Session{MeetingID: meetingID, Status: db.StatusEnded, EventType: "meetingEnd"})
	}
	if convID := firstNonEmpty(a.Conversation.ID, session.ConversationID); convID != "" {
		b.saveSession(ctx, db.Session{MeetingID: db.ConversationKey(convID), Status: db.StatusEnded, EventType: "meetingEnd"})
	}

	if job.JoinURL == "" || job.UserID == "" {
		b.logger.WarnContext(ctx, "Cannot fetch transcript without join url and user",
			slog.String("meeting_id", meetingID),
		)
		return actionResponse(ActionMeetingEnd)
	}

	if b.deps.Jobs != nil {
		err := b.deps.Jobs.Enqueue(ctx, job)
		if err == nil {
			b.logger.InfoContext(ctx, "Queued transcript fetch", slog.String("meeting_id", meetingID))
			return actionResponse(ActionMeetingEnd)
		}
		b.logger.ErrorContext(ctx, "Failed to queue transcript fetch, fetching inline",
			slog.String("error", err.Error()),
		)
	}

	if _, err := b.FetchTranscript(ctx, job); err != nil {
		b.logger.ErrorContext(ctx, "Transcript fetch failed",
			slog.String("meeting_id", meetingID),
			slog.String("error", err.Error()),
		)
	}
	return actionResponse(ActionMeetingEnd)
}
