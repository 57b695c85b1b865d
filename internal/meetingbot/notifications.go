package meetingbot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
)

// Lifecycle events Graph sends for a subscription.
const (
	LifecycleReauthorizationRequired = "reauthorizationRequired"
	LifecycleSubscriptionRemoved     = "subscriptionRemoved"
	LifecycleMissed                  = "missed"
)

const callTranscriptType = "#Microsoft.Graph.callTranscript"

var (
	userTranscriptResource  = regexp.MustCompile(`^/?users/([^/]+)/onlineMeetings\('([^']+)'\)/transcripts\('([^']+)'\)`)
	commsTranscriptResource = regexp.MustCompile(`^/?communications/onlineMeetings\('([^']+)'\)/transcripts\('([^']+)'\)`)
)

type notification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	LifecycleEvent string `json:"lifecycleEvent"`
	ResourceData   struct {
		ODataType        string `json:"@odata.type"`
		ID               string `json:"id"`
		MeetingID        string `json:"meetingId"`
		MeetingOrganizer struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"meetingOrganizer"`
	} `json:"resourceData"`
}

type notificationBatch struct {
	Value []notification `json:"value"`
}

// transcriptRef locates a transcript named by a change notification.
type transcriptRef struct {
	UserID       string
	MeetingID    string
	TranscriptID string
}

func (n notification) transcript() (transcriptRef, bool) {
	if m := userTranscriptResource.FindStringSubmatch(n.Resource); m != nil {
		return transcriptRef{UserID: m[1], MeetingID: m[2], TranscriptID: m[3]}, true
	}
	if m := commsTranscriptResource.FindStringSubmatch(n.Resource); m != nil {
		return transcriptRef{UserID: n.ResourceData.MeetingOrganizer.User.ID, MeetingID: m[1], TranscriptID: m[2]}, true
	}
	if n.ResourceData.ODataType == callTranscriptType && n.ResourceData.MeetingID != "" {
		return transcriptRef{
			UserID:       n.ResourceData.MeetingOrganizer.User.ID,
			MeetingID:    n.ResourceData.MeetingID,
			TranscriptID: n.ResourceData.ID,
		}, true
	}
	return transcriptRef{}, false
}

// parseNotifications decodes a batch and checks every clientState. ok is
// false when any notification fails the check.
func (b *Bot) parseNotifications(ctx context.Context, req *Request) (batch notificationBatch, ok bool, resp *Response) {
	if err := json.Unmarshal(req.Body, &batch); err != nil {
		b.logger.WarnContext(ctx, "Invalid notification body", slog.String("error", err.Error()))
		r := statusResponse(http.StatusBadRequest, "invalid_json")
		return batch, false, &r
	}
	for _, n := range batch.Value {
		if !b.clientStateMatches(n.ClientState) {
			b.logger.WarnContext(ctx, "Rejected notification with unexpected clientState",
				slog.String("subscription_id", n.SubscriptionID),
			)
			return batch, false, nil
		}
	}
	return batch, true, nil
}

func (b *Bot) clientStateMatches(state string) bool {
	expected := b.cfg.NotificationClientState
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(state), []byte(expected)) == 1
}

func (b *Bot) handleNotifications(ctx context.Context, req *Request) Response {
	batch, ok, resp := b.parseNotifications(ctx, req)
	if resp != nil {
		return *resp
	}
	if !ok {
		return statusResponse(http.StatusAccepted, "rejected")
	}

	for _, n := range batch.Value {
		ref, isTranscript := n.transcript()
		if !isTranscript {
			b.logger.InfoContext(ctx, "Ignoring non-transcript notification", slog.String("resource", n.Resource))
			continue
		}
		if err := b.handleTranscriptNotification(ctx, ref); err != nil {
			b.logger.ErrorContext(ctx, "Failed to process transcript notification",
				slog.String("meeting_id", ref.MeetingID),
				slog.String("transcript_id", ref.TranscriptID),
				slog.String("error", err.Error()),
			)
		}
	}
	return statusResponse(http.StatusAccepted, "accepted")
}

func (b *Bot) handleTranscriptNotification(ctx context.Context, ref transcriptRef) error {
	if ref.UserID == "" {
		return errors.New("notification carries no organizer id")
	}

	meeting, err := b.deps.Graph.GetOnlineMeeting(ctx, ref.UserID, ref.MeetingID)
	if err != nil {
		return err
	}
	threadID := meeting.ThreadID()

	var serviceURL, sessionKey string
	if threadID != "" {
		sessionKey = db.ConversationKey(threadID)
		session, err := b.deps.Sessions.Get(ctx, sessionKey)
		switch {
		case err == nil:
			serviceURL = session.ServiceURL
		case errors.Is(err, db.ErrNotFound):
			b.logger.WarnContext(ctx, "No cached service url for meeting chat", slog.String("thread_id", threadID))
		default:
			return err
		}
	}

	content, err := b.deps.Graph.GetTranscriptContent(ctx, ref.UserID, ref.MeetingID, ref.TranscriptID, graph.TranscriptFormatVTT)
	if err != nil {
		return err
	}

	b.deliverTranscript(ctx, transcriptDelivery{
		SessionKey:      sessionKey,
		OnlineMeetingID: ref.MeetingID,
		TranscriptID:    ref.TranscriptID,
		Subject:         meeting.Subject,
		Content:         content,
		ServiceURL:      serviceURL,
		ConversationID:  threadID,
	})
	return nil
}

func (b *Bot) handleLifecycle(ctx context.Context, req *Request) Response {
	batch, ok, resp := b.parseNotifications(ctx, req)
	if resp != nil {
		return *resp
	}
	if !ok {
		return statusResponse(http.StatusAccepted, "rejected")
	}

	for _, n := range batch.Value {
		log := b.logger.With(
			slog.String("subscription_id", n.SubscriptionID),
			slog.String("lifecycle_event", n.LifecycleEvent),
		)

		if b.deps.Subscriptions == nil && n.LifecycleEvent != LifecycleMissed {
			log.WarnContext(ctx, "Subscription maintenance is not configured")
			continue
		}

		switch n.LifecycleEvent {
		case LifecycleReauthorizationRequired:
			if _, err := b.deps.Subscriptions.Renew(ctx, n.SubscriptionID); err != nil {
				log.ErrorContext(ctx, "Failed to renew subscription", slog.String("error", err.Error()))
			}
		case LifecycleSubscriptionRemoved:
			if _, err := b.deps.Subscriptions.Recreate(ctx); err != nil {
				log.ErrorContext(ctx, "Failed to recreate subscription", slog.String("error", err.Error()))
			}
		case LifecycleMissed:
			log.WarnContext(ctx, "Graph reported missed notifications")
		default:
			log.InfoContext(ctx, "Ignoring lifecycle event")
		}
	}
	return statusResponse(http.StatusAccepted, "accepted")
}
