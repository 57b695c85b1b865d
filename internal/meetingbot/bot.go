// Package meetingbot implements the Teams meeting bot: Bot Framework activity
// dispatch, Graph change and lifecycle notifications, transcript delivery and
// the scheduled auto-installer.
package meetingbot

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/retry"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/subscription"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

// DefaultBotName is the display name users see and may type before a command.
const DefaultBotName = "Meeting Fetcher"

// Graph is the subset of Microsoft Graph the bot calls.
type Graph interface {
	GetOnlineMeeting(ctx context.Context, userID, meetingID string) (*graph.OnlineMeeting, error)
	FindOnlineMeetingByJoinURL(ctx context.Context, userID, joinURL string) (*graph.OnlineMeeting, error)
	UpdateOnlineMeeting(ctx context.Context, userID, meetingID string, update graph.MeetingUpdate) error
	ListTranscripts(ctx context.Context, userID, meetingID string) ([]graph.Transcript, error)
	GetTranscriptContent(ctx context.Context, userID, meetingID, transcriptID, format string) ([]byte, error)
	ListUpcomingOnlineMeetings(ctx context.Context, userID string, lookahead time.Duration) ([]graph.CalendarEvent, error)
	IsAppInstalled(ctx context.Context, chatID, catalogAppID string) (bool, error)
	InstallApp(ctx context.Context, chatID, catalogAppID string) error
	IsUserInGroup(ctx context.Context, userID, groupID string) (bool, error)
}

// Messenger posts into Teams conversations.
type Messenger interface {
	SendMessage(ctx context.Context, serviceURL, conversationID, text string) error
	ReplyToActivity(ctx context.Context, serviceURL, conversationID, activityID, text string) error
}

// Sessions is the meeting session table.
type Sessions interface {
	Get(ctx context.Context, meetingID string) (*db.Session, error)
	Save(ctx context.Context, session db.Session) (*db.Session, error)
}

// TranscriptStore writes transcripts to object storage.
type TranscriptStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	Bucket() string
}

// Notifier announces stored transcripts.
type Notifier interface {
	TranscriptStored(ctx context.Context, meetingID, transcriptID, bucket, key string) error
}

// JobQueue hands transcript fetches to a worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job worker.TranscriptJob) error
}

// Metrics publishes counters.
type Metrics interface {
	PublishMetric(ctx context.Context, name string, value float64) error
}

// TokenValidator checks inbound Bot Connector tokens.
type TokenValidator interface {
	Validate(ctx context.Context, authorization, serviceURL string) error
}

// Subscriptions maintains the Graph transcript subscription.
type Subscriptions interface {
	Renew(ctx context.Context, id string) (*subscription.Result, error)
	Recreate(ctx context.Context) (*subscription.Result, error)
}

// Config holds bot settings.
type Config struct {
	BotAppID                string
	BotName                 string
	AllowedGroupID          string
	CatalogAppID            string
	WatchedUserIDs          []string
	PollLookahead           time.Duration
	NotificationClientState string
	AuthEnabled             bool
	TranscriptDelay         time.Duration
	TranscriptBackoff       retry.Backoff
	TranscriptLinkExpiry    time.Duration
	InstallConcurrency      int
}

// Deps are the collaborators of a Bot. Only Sessions, Graph and Messenger are required.
type Deps struct {
	Sessions      Sessions
	Graph         Graph
	Messenger     Messenger
	Transcripts   TranscriptStore
	Notifier      Notifier
	Jobs          JobQueue
	Metrics       Metrics
	Validator     TokenValidator
	Subscriptions Subscriptions
}

// Bot handles meeting-bot events.
type Bot struct {
	cfg        Config
	deps       Deps
	logger     *slog.Logger
	tracer     trace.Tracer
	membership *cache.Cache
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Bot, filling unset timings with production defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Bot {
	if cfg.BotName == "" {
		cfg.BotName = DefaultBotName
	}
	if cfg.PollLookahead <= 0 {
		cfg.PollLookahead = 60 * time.Minute
	}
	if cfg.TranscriptDelay <= 0 {
		cfg.TranscriptDelay = 30 * time.Second
	}
	if cfg.TranscriptBackoff.Attempts == 0 {
		cfg.TranscriptBackoff = retry.Backoff{Attempts: 5, Base: 15 * time.Second, Max: 60 * time.Second}
	}
	if cfg.TranscriptLinkExpiry <= 0 {
		cfg.TranscriptLinkExpiry = 24 * time.Hour
	}
	if cfg.InstallConcurrency <= 0 {
		cfg.InstallConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		tracer:     otel.Tracer("github.com/jarrod-lowe/teams-meeting-fetcher/internal/meetingbot"),
		membership: cache.New(10*time.Minute, 30*time.Minute),
		now:        time.Now,
		sleep:      retry.Sleep,
	}
}

func (b *Bot) publishMetric(ctx context.Context, name string, value float64) {
	if b.deps.Metrics == nil {
		return
	}
	if err := b.deps.Metrics.PublishMetric(ctx, name, value); err != nil {
		b.logger.WarnContext(ctx, "Failed to publish metric",
			slog.String("metric", name),
			slog.String("error", err.Error()),
		)
	}
}
