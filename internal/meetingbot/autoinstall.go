package meetingbot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/metrics"
)

// ActionPollComplete is reported by a scheduled auto-install run.
const ActionPollComplete = "poll_complete"

// PollResult summarises one auto-install run.
type PollResult struct {
	Action       string `json:"action"`
	UsersPolled  int    `json:"usersPolled"`
	MeetingsSeen int    `json:"meetingsSeen"`
	Installed    int    `json:"installed"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
}

type installOutcome int

const (
	outcomeInstalled installOutcome = iota
	outcomeSkipped
	outcomeError
)

type pollCounter struct {
	mu     sync.Mutex
	result PollResult
}

func (c *pollCounter) add(fn func(r *PollResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.result)
}

func (c *pollCounter) record(o installOutcome) {
	c.add(func(r *PollResult) {
		switch o {
		case outcomeInstalled:
			r.Installed++
		case outcomeSkipped:
			r.Skipped++
		default:
			r.Errors++
		}
	})
}

// PollAutoInstall installs the bot into the chats of watched users' upcoming
// meetings and turns on auto-recording. Per-meeting failures are counted,
// never returned.
func (b *Bot) PollAutoInstall(ctx context.Context) PollResult {
	ctx, span := b.tracer.Start(ctx, "meetingbot.PollAutoInstall")
	defer span.End()

	counter := &pollCounter{result: PollResult{Action: ActionPollComplete}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.InstallConcurrency)
	for _, userID := range b.cfg.WatchedUserIDs {
		g.Go(func() error {
			b.pollUser(gctx, userID, counter)
			return nil
		})
	}
	_ = g.Wait()

	result := counter.result
	span.SetAttributes(
		attribute.Int("autoinstall.users", result.UsersPolled),
		attribute.Int("autoinstall.installed", result.Installed),
		attribute.Int("autoinstall.errors", result.Errors),
	)

	b.publishMetric(ctx, metrics.AutoInstallInstalled, float64(result.Installed))
	b.publishMetric(ctx, metrics.AutoInstallErrors, float64(result.Errors))

	b.logger.InfoContext(ctx, "Auto-install poll complete",
		slog.Int("users_polled", result.UsersPolled),
		slog.Int("meetings_seen", result.MeetingsSeen),
		slog.Int("installed", result.Installed),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
	)
	return result
}

func (b *Bot) pollUser(ctx context.Context, userID string, counter *pollCounter) {
	events, err := b.deps.Graph.ListUpcomingOnlineMeetings(ctx, userID, b.cfg.PollLookahead)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to list upcoming meetings",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		counter.add(func(r *PollResult) { r.Errors++ })
		return
	}

	counter.add(func(r *PollResult) {
		r.UsersPolled++
		r.MeetingsSeen += len(events)
	})

	for _, ev := range events {
		counter.record(b.installForMeeting(ctx, userID, ev))
	}
}

func (b *Bot) installForMeeting(ctx context.Context, userID string, ev graph.CalendarEvent) installOutcome {
	joinURL := ev.JoinURL()
	log := b.logger.With(slog.String("user_id", userID), slog.String("event_id", ev.ID))
	key := db.AutoInstallKey(joinURL)

	if existing, err := b.deps.Sessions.Get(ctx, key); err == nil && existing.Status == db.StatusInstalled {
		return outcomeSkipped
	} else if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.WarnContext(ctx, "Failed to read auto-install record", slog.String("error", err.Error()))
	}

	meeting, err := b.deps.Graph.FindOnlineMeetingByJoinURL(ctx, userID, joinURL)
	if errors.Is(err, graph.ErrNotFound) {
		log.InfoContext(ctx, "Calendar event has no matching online meeting")
		return outcomeSkipped
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve online meeting", slog.String("error", err.Error()))
		return outcomeError
	}

	chatID := meeting.ThreadID()
	if chatID == "" {
		log.InfoContext(ctx, "Online meeting has no chat thread")
		return outcomeSkipped
	}
	if b.cfg.CatalogAppID == "" {
		log.WarnContext(ctx, "No catalog app id configured, skipping install")
		return outcomeSkipped
	}

	installed, err := b.deps.Graph.IsAppInstalled(ctx, chatID, b.cfg.CatalogAppID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to list installed apps", slog.String("error", err.Error()))
		return outcomeError
	}
	if installed {
		return outcomeSkipped
	}

	if err := b.deps.Graph.InstallApp(ctx, chatID, b.cfg.CatalogAppID); err != nil {
		if errors.Is(err, graph.ErrConflict) {
			return outcomeSkipped
		}
		log.ErrorContext(ctx, "Failed to install app in meeting chat",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return outcomeError
	}

	recording := true
	if err := b.deps.Graph.UpdateOnlineMeeting(ctx, userID, meeting.ID, graph.EnableRecording); err != nil {
		recording = false
		log.WarnContext(ctx, "Failed to enable auto-recording", slog.String("error", err.Error()))
	}

	b.saveSession(ctx, db.Session{
		MeetingID:           key,
		Status:              db.StatusInstalled,
		JoinURL:             joinURL,
		Title:               firstNonEmpty(ev.Subject, meeting.Subject),
		OrganizerID:         userID,
		ConversationID:      chatID,
		RecordingConfigured: &recording,
	})

	log.InfoContext(ctx, "Installed bot in meeting chat", slog.String("chat_id", chatID))
	return outcomeInstalled
}
