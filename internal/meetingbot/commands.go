package meetingbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/mention"
)

const manualRecordEvent = "manual_record"

func (b *Bot) handleMessage(ctx context.Context, a *botframework.Activity) Response {
	command := mention.Command(mention.StripMentions(a.Text), b.cfg.BotName)

	b.logger.InfoContext(ctx, "Received command", slog.String("command", command))

	switch command {
	case "help":
		b.reply(ctx, a, b.helpText())
	case "hi", "hello":
		b.reply(ctx, a, fmt.Sprintf("👋 Hello! I'm **%s**. I record meetings in this chat and post the transcript when they end. Type **Help** to learn more.", b.cfg.BotName))
	case "record":
		b.handleRecord(ctx, a)
	case "status":
		b.handleStatus(ctx, a)
	case "info":
		b.reply(ctx, a, contextTable(a))
	case "debug":
		b.reply(ctx, a, contextTable(a)+"\n\n"+sessionBlock(b.loadSession(ctx, a)))
	default:
		b.reply(ctx, a, "I didn't recognise that command. Type **Help** to learn more.")
	}

	return statusResponse(http.StatusOK, "ok")
}

func (b *Bot) helpText() string {
	return fmt.Sprintf(`**%s Help**

- **record**: enable auto-recording and transcription for this meeting
- **status**: show the meeting session status
- **info**: show the current chat context
- **debug**: show the chat context and the stored meeting session
- **help**: show this message

Transcripts are posted here automatically once the meeting ends.`, b.cfg.BotName)
}

func (b *Bot) handleRecord(ctx context.Context, a *botframework.Activity) {
	if b.cfg.AllowedGroupID != "" {
		allowed, err := b.isAllowed(ctx, a.From.AADObjectID)
		if err != nil {
			b.logger.ErrorContext(ctx, "Failed to check group membership", slog.String("error", err.Error()))
		}
		if !allowed {
			b.reply(ctx, a, "⛔ You are not allowed to start recording with this bot.")
			return
		}
	}

	session := b.loadSession(ctx, a)
	b.saveSession(ctx, db.Session{
		MeetingID:      sessionKey(a),
		EventType:      manualRecordEvent,
		ServiceURL:     a.ServiceURL,
		ConversationID: a.Conversation.ID,
	})

	if session == nil || session.JoinURL == "" || session.OrganizerID == "" {
		b.reply(ctx, a, couldNotConfigure("I don't have the meeting join link yet."))
		return
	}

	meeting, err := b.deps.Graph.FindOnlineMeetingByJoinURL(ctx, session.OrganizerID, session.JoinURL)
	if err == nil {
		err = b.deps.Graph.UpdateOnlineMeeting(ctx, session.OrganizerID, meeting.ID, graph.EnableRecording)
	}
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to configure recording",
			slog.String("organizer_id", session.OrganizerID),
			slog.String("error", err.Error()),
		)
		b.reply(ctx, a, couldNotConfigure("Microsoft Graph rejected the request."))
		return
	}

	configured := true
	b.saveSession(ctx, db.Session{MeetingID: sessionKey(a), RecordingConfigured: &configured})
	b.reply(ctx, a, "✅ Auto-recording and transcription have been enabled for this meeting.")
}

func couldNotConfigure(reason string) string {
	return "⚠️ Could not configure recording automatically. " + reason +
		" Please use **Start recording** from the meeting controls; the transcript will still be posted here when the meeting ends."
}

// isAllowed checks membership of the allowed group, caching the answer per user.
func (b *Bot) isAllowed(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if cached, found := b.membership.Get(userID); found {
		return cached.(bool), nil
	}
	member, err := b.deps.Graph.IsUserInGroup(ctx, userID, b.cfg.AllowedGroupID)
	if err != nil {
		return false, err
	}
	b.membership.Set(userID, member, cache.DefaultExpiration)
	return member, nil
}

func (b *Bot) handleStatus(ctx context.Context, a *botframework.Activity) {
	session := b.loadSession(ctx, a)
	if session == nil {
		b.reply(ctx, a, "No meeting session has been recorded for this chat yet.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Meeting status:** %s", firstNonEmpty(session.Status, "unknown"))
	if session.Title != "" {
		fmt.Fprintf(&sb, "\n\n**Title:** %s", session.Title)
	}
	if session.TranscriptKey != "" {
		fmt.Fprintf(&sb, "\n\n**Transcript:** %s", session.TranscriptKey)
	}
	b.reply(ctx, a, sb.String())
}

func contextTable(a *botframework.Activity) string {
	rows := [][2]string{
		{"Meeting ID", a.MeetingID()},
		{"Conversation ID", a.Conversation.ID},
		{"Conversation type", a.Conversation.ConversationType},
		{"Tenant ID", a.TenantID()},
		{"User", senderName(a)},
		{"User AAD ID", a.From.AADObjectID},
		{"Service URL", a.ServiceURL},
		{"Channel", a.ChannelID},
	}

	var sb strings.Builder
	sb.WriteString("**Current Context**\n\n| Field | Value |\n|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, "| %s | %s |\n", row[0], firstNonEmpty(row[1], "-"))
	}
	return sb.String()
}

func sessionBlock(session *db.Session) string {
	if session == nil {
		return "**Meeting Session** (DynamoDB): none"
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "**Meeting Session** (DynamoDB): unreadable"
	}
	return "**Meeting Session** (DynamoDB)\n\n```json\n" + string(data) + "\n```"
}
