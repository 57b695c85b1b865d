package meetingbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/metrics"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/objectstore"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/retry"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

// Transcript fetch outcomes.
const (
	TranscriptPosted       = "posted"
	TranscriptNotAvailable = "not_available"
	TranscriptNoMeeting    = "meeting_not_found"
)

var errNoTranscripts = errors.New("no transcripts yet")

// TranscriptResult describes a completed transcript fetch.
type TranscriptResult struct {
	Status       string `json:"status"`
	MeetingID    string `json:"meetingId,omitempty"`
	TranscriptID string `json:"transcriptId,omitempty"`
	Key          string `json:"key,omitempty"`
}

// FetchTranscript waits for Teams to produce a transcript for the meeting in
// job, then stores it and posts it into the meeting chat. A transcript that
// never appears is not an error.
func (b *Bot) FetchTranscript(ctx context.Context, job worker.TranscriptJob) (*TranscriptResult, error) {
	ctx, span := b.tracer.Start(ctx, "meetingbot.FetchTranscript")
	defer span.End()
	span.SetAttributes(attribute.String("meeting.id", job.MeetingID))

	if job.JoinURL == "" || job.UserID == "" {
		return nil, fmt.Errorf("join url and user id are required")
	}

	if err := b.sleep(ctx, b.cfg.TranscriptDelay); err != nil {
		return nil, err
	}

	meeting, err := b.deps.Graph.FindOnlineMeetingByJoinURL(ctx, job.UserID, job.JoinURL)
	if errors.Is(err, graph.ErrNotFound) {
		b.logger.WarnContext(ctx, "No online meeting matches join url", slog.String("user_id", job.UserID))
		return &TranscriptResult{Status: TranscriptNoMeeting}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve online meeting: %w", err)
	}

	transcripts, err := b.waitForTranscripts(ctx, job.UserID, meeting.ID)
	if errors.Is(err, retry.ErrExhausted) {
		b.logger.WarnContext(ctx, "No transcript became available",
			slog.String("online_meeting_id", meeting.ID),
		)
		return &TranscriptResult{Status: TranscriptNotAvailable, MeetingID: meeting.ID}, nil
	}
	if err != nil {
		return nil, err
	}

	transcript := latestTranscript(transcripts)
	content, err := b.deps.Graph.GetTranscriptContent(ctx, job.UserID, meeting.ID, transcript.ID, graph.TranscriptFormatVTT)
	if err != nil {
		return nil, fmt.Errorf("failed to download transcript: %w", err)
	}

	return b.deliverTranscript(ctx, transcriptDelivery{
		SessionKey:      job.MeetingID,
		OnlineMeetingID: meeting.ID,
		TranscriptID:    transcript.ID,
		Subject:         meeting.Subject,
		Content:         content,
		ServiceURL:      job.ServiceURL,
		ConversationID:  job.ConversationID,
	}), nil
}

func (b *Bot) waitForTranscripts(ctx context.Context, userID, meetingID string) ([]graph.Transcript, error) {
	backoff := b.cfg.TranscriptBackoff
	if backoff.Sleep == nil {
		backoff.Sleep = b.sleep
	}

	var transcripts []graph.Transcript
	err := backoff.Do(ctx, func(ctx context.Context, attempt int) error {
		list, err := b.deps.Graph.ListTranscripts(ctx, userID, meetingID)
		if err != nil {
			return fmt.Errorf("failed to list transcripts: %w", err)
		}
		if len(list) == 0 {
			b.logger.InfoContext(ctx, "Transcript not ready", slog.Int("attempt", attempt))
			return retry.Retryable(errNoTranscripts)
		}
		transcripts = list
		return nil
	})
	return transcripts, err
}

// latestTranscript picks the most recently created transcript.
func latestTranscript(transcripts []graph.Transcript) graph.Transcript {
	sorted := append([]graph.Transcript(nil), transcripts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedDateTime < sorted[j].CreatedDateTime
	})
	return sorted[len(sorted)-1]
}

type transcriptDelivery struct {
	SessionKey      string
	OnlineMeetingID string
	TranscriptID    string
	Subject         string
	Content         []byte
	ServiceURL      string
	ConversationID  string
}

// deliverTranscript stores the transcript, posts it to the chat and records
// the result. A storage failure does not stop the chat post.
func (b *Bot) deliverTranscript(ctx context.Context, d transcriptDelivery) *TranscriptResult {
	key := objectstore.TranscriptKey(b.now(), d.OnlineMeetingID, d.TranscriptID)
	stored := false
	link := ""

	if b.deps.Transcripts != nil {
		if err := b.deps.Transcripts.Put(ctx, key, objectstore.ContentTypeVTT, d.Content); err != nil {
			b.logger.ErrorContext(ctx, "Failed to store transcript",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else {
			stored = true
			if url, err := b.deps.Transcripts.PresignGet(ctx, key, b.cfg.TranscriptLinkExpiry); err == nil {
				link = url
			}
		}
	}

	b.sendTo(ctx, d.ServiceURL, d.ConversationID, transcriptMessage(d.Subject, string(d.Content), link))

	result := &TranscriptResult{Status: TranscriptPosted, MeetingID: d.OnlineMeetingID, TranscriptID: d.TranscriptID}
	if !stored {
		return result
	}
	result.Key = key

	if d.SessionKey != "" {
		b.saveSession(ctx, db.Session{
			MeetingID:     d.SessionKey,
			Status:        db.StatusTranscriptSaved,
			TranscriptKey: key,
			TranscriptID:  d.TranscriptID,
		})
	}
	if b.deps.Notifier != nil {
		if err := b.deps.Notifier.TranscriptStored(ctx, d.OnlineMeetingID, d.TranscriptID, b.deps.Transcripts.Bucket(), key); err != nil {
			b.logger.ErrorContext(ctx, "Failed to publish transcript event", slog.String("error", err.Error()))
		}
	}
	b.publishMetric(ctx, metrics.TranscriptsStored, 1)

	b.logger.InfoContext(ctx, "Transcript delivered",
		slog.String("key", key),
		slog.String("transcript_id", d.TranscriptID),
	)
	return result
}

// maxSubjectLength caps the meeting subject in the transcript header, in bytes.
const maxSubjectLength = 256

// transcriptMessage renders the chat post, truncating the transcript to fit
// one Bot Framework message.
func transcriptMessage(subject, content, link string) string {
	header := "📝 **Meeting Transcript**"
	if subject != "" {
		if len(subject) > maxSubjectLength {
			subject = truncateUTF8(subject, maxSubjectLength-len("…")) + "…"
		}
		header += ": " + subject
	}
	footer := ""
	if link != "" {
		footer = fmt.Sprintf("\n\n[Download full transcript](%s)", link)
	}

	const fence = "\n\n```\n"
	const closing = "\n```"
	const marker = "\n… (truncated)"

	budget := botframework.MaxMessageLength - len(header) - len(fence) - len(closing) - len(footer)
	if len(content) > budget {
		content = truncateUTF8(content, max(budget-len(marker), 0)) + marker
	}
	return header + fence + content + closing + footer
}

func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
