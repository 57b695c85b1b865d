package meetingbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
)

// Response actions for membership and installation changes.
const (
	ActionBotAdded      = "bot_added"
	ActionUserAdded     = "user_added"
	ActionBotRemoved    = "bot_removed"
	ActionUserRemoved   = "user_removed"
	ActionInstallAdd    = "install_add"
	ActionInstallRemove = "install_remove"
	ActionMeetingStart  = "meeting_start"
	ActionMeetingEnd    = "meeting_end"
)

// HandleActivity dispatches an activity by type, and by name for events.
func (b *Bot) HandleActivity(ctx context.Context, a *botframework.Activity) Response {
	ctx, span := b.tracer.Start(ctx, "meetingbot.HandleActivity")
	defer span.End()

	b.logger.InfoContext(ctx, "Received activity",
		slog.String("type", a.Type),
		slog.String("name", a.Name),
		slog.String("conversation_id", a.Conversation.ID),
	)

	switch a.Type {
	case botframework.TypeMessage:
		return b.handleMessage(ctx, a)
	case botframework.TypeEvent:
		return b.handleEvent(ctx, a)
	case botframework.TypeConversationUpdate:
		return b.handleConversationUpdate(ctx, a)
	case botframework.TypeInstallationUpdate:
		return b.handleInstallationUpdate(ctx, a)
	case botframework.TypeMessageReaction:
		return b.handleReaction(ctx, a)
	case botframework.TypeMessageUpdate:
		b.send(ctx, a, fmt.Sprintf("✏️ Message edited by %s", senderName(a)))
		return statusResponse(http.StatusOK, "ok")
	case botframework.TypeMessageDelete:
		b.send(ctx, a, fmt.Sprintf("🗑️ Message deleted by %s", senderName(a)))
		return statusResponse(http.StatusOK, "ok")
	case botframework.TypeTyping:
		return statusResponse(http.StatusOK, "ok")
	default:
		b.logger.InfoContext(ctx, "Ignoring activity type", slog.String("type", a.Type))
		return statusResponse(http.StatusOK, "ok")
	}
}

func (b *Bot) handleEvent(ctx context.Context, a *botframework.Activity) Response {
	switch a.Name {
	case botframework.EventMeetingStart:
		return b.handleMeetingStart(ctx, a)
	case botframework.EventMeetingEnd:
		return b.handleMeetingEnd(ctx, a)
	case botframework.EventMeetingParticipantJoin:
		b.send(ctx, a, "👋 Participant joined: "+joinNames(a.ParticipantNames()))
		return statusResponse(http.StatusOK, "ok")
	case botframework.EventMeetingParticipantLeave:
		b.send(ctx, a, "🚪 Participant left: "+joinNames(a.ParticipantNames()))
		return statusResponse(http.StatusOK, "ok")
	default:
		b.logger.InfoContext(ctx, "Ignoring event", slog.String("name", a.Name))
		return statusResponse(http.StatusOK, "ok")
	}
}

func (b *Bot) handleConversationUpdate(ctx context.Context, a *botframework.Activity) Response {
	botID := botframework.BotAccountID(b.cfg.BotAppID)
	botAdded, usersAdded := splitBot(a.MembersAdded, botID)
	botRemoved, usersRemoved := splitBot(a.MembersRemoved, botID)

	action := ""
	if botAdded {
		b.send(ctx, a, fmt.Sprintf("🤖 **%s** has been added to this chat. Meetings here will be recorded and transcripts posted when they end. Type **Help** to learn more.", b.cfg.BotName))
		key := sessionKey(a)
		b.saveSession(ctx, db.Session{
			MeetingID:      key,
			Status:         db.StatusBotInstalled,
			EventType:      botframework.TypeConversationUpdate,
			ServiceURL:     a.ServiceURL,
			ConversationID: a.Conversation.ID,
		})
		if alias := db.ConversationKey(a.Conversation.ID); a.Conversation.ID != "" && alias != key {
			b.saveSession(ctx, db.Session{
				MeetingID:      alias,
				Status:         db.StatusBotInstalled,
				ServiceURL:     a.ServiceURL,
				ConversationID: a.Conversation.ID,
			})
		}
		action = ActionBotAdded
	}
	if len(usersAdded) > 0 {
		b.send(ctx, a, "👋 Member(s) added: "+joinNames(botframework.Names(usersAdded)))
		if action == "" {
			action = ActionUserAdded
		}
	}

	if botRemoved {
		key := sessionKey(a)
		session := b.loadSession(ctx, a)
		b.saveSession(ctx, db.Session{MeetingID: key, Status: db.StatusBotRemoved})
		if session != nil && session.JoinURL != "" {
			configured := false
			b.saveSession(ctx, db.Session{
				MeetingID:           db.AutoInstallKey(session.JoinURL),
				Status:              db.StatusBotRemoved,
				RecordingConfigured: &configured,
			})
		}
		return actionResponse(ActionBotRemoved)
	}
	if len(usersRemoved) > 0 {
		b.send(ctx, a, "👋 Member(s) removed: "+joinNames(botframework.Names(usersRemoved)))
		return actionResponse(ActionUserRemoved)
	}

	if action != "" {
		return actionResponse(action)
	}
	return statusResponse(http.StatusOK, "ok")
}

func (b *Bot) handleInstallationUpdate(ctx context.Context, a *botframework.Activity) Response {
	switch strings.ToLower(a.Action) {
	case "add", "add-upgrade":
		b.send(ctx, a, fmt.Sprintf("📦 installationUpdate: **%s** by %s", a.Action, senderName(a)))
		return actionResponse(ActionInstallAdd)
	case "remove", "remove-upgrade":
		b.saveSession(ctx, db.Session{MeetingID: sessionKey(a), Status: db.StatusUninstalled})
		return actionResponse(ActionInstallRemove)
	default:
		return statusResponse(http.StatusOK, "ok")
	}
}

func (b *Bot) handleReaction(ctx context.Context, a *botframework.Activity) Response {
	var parts []string
	if len(a.ReactionsAdded) > 0 {
		parts = append(parts, "added "+reactionTypes(a.ReactionsAdded))
	}
	if len(a.ReactionsRemoved) > 0 {
		parts = append(parts, "removed "+reactionTypes(a.ReactionsRemoved))
	}
	if len(parts) == 0 {
		return statusResponse(http.StatusOK, "ok")
	}
	b.send(ctx, a, fmt.Sprintf("👍 Reaction %s by %s", strings.Join(parts, ", "), senderName(a)))
	return statusResponse(http.StatusOK, "ok")
}

// sessionKey is the meeting id from the activity, or the conversation alias
// when the activity carries no meeting.
func sessionKey(a *botframework.Activity) string {
	if id := a.MeetingID(); id != "" {
		return id
	}
	return db.ConversationKey(a.Conversation.ID)
}

// loadSession finds the session by meeting id, then by conversation alias.
// It returns nil when neither exists or the lookup fails.
func (b *Bot) loadSession(ctx context.Context, a *botframework.Activity) *db.Session {
	keys := []string{sessionKey(a)}
	if alias := db.ConversationKey(a.Conversation.ID); a.Conversation.ID != "" && alias != keys[0] {
		keys = append(keys, alias)
	}

	for _, key := range keys {
		session, err := b.deps.Sessions.Get(ctx, key)
		if err == nil {
			return session
		}
		if !errors.Is(err, db.ErrNotFound) {
			b.logger.WarnContext(ctx, "Failed to load session",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return nil
		}
	}
	return nil
}

func (b *Bot) saveSession(ctx context.Context, session db.Session) {
	if _, err := b.deps.Sessions.Save(ctx, session); err != nil {
		b.logger.ErrorContext(ctx, "Failed to save session",
			slog.String("key", session.MeetingID),
			slog.String("error", err.Error()),
		)
	}
}

// send posts a new message to the activity's conversation, logging failures.
func (b *Bot) send(ctx context.Context, a *botframework.Activity, text string) {
	b.sendTo(ctx, a.ServiceURL, a.Conversation.ID, text)
}

func (b *Bot) sendTo(ctx context.Context, serviceURL, conversationID, text string) bool {
	if serviceURL == "" || conversationID == "" {
		b.logger.WarnContext(ctx, "Cannot send message without service url and conversation")
		return false
	}
	if err := b.deps.Messenger.SendMessage(ctx, serviceURL, conversationID, text); err != nil {
		b.logger.ErrorContext(ctx, "Failed to send bot message",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// reply answers the activity in-thread, falling back to a new message.
func (b *Bot) reply(ctx context.Context, a *botframework.Activity, text string) {
	if a.ID == "" {
		b.send(ctx, a, text)
		return
	}
	if err := b.deps.Messenger.ReplyToActivity(ctx, a.ServiceURL, a.Conversation.ID, a.ID, text); err != nil {
		b.logger.ErrorContext(ctx, "Failed to reply to activity",
			slog.String("activity_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func splitBot(members []botframework.ChannelAccount, botID string) (botFound bool, users []botframework.ChannelAccount) {
	for _, m := range members {
		if m.ID == botID {
			botFound = true
			continue
		}
		users = append(users, m)
	}
	return botFound, users
}

func senderName(a *botframework.Activity) string {
	return firstNonEmpty(a.From.Name, a.From.AADObjectID, a.From.ID, "unknown")
}

func reactionTypes(reactions []botframework.MessageReaction) string {
	types := make([]string, 0, len(reactions))
	for _, r := range reactions {
		types = append(types, r.Type)
	}
	return strings.Join(types, ", ")
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, ", ")
}
