package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/aadauth"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/config"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/meetingbot"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/metrics"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/notify"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/objectstore"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/secrets"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

var logger = logging.New()

// TranscriptFetcher runs the transcript pipeline for one meeting
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, job worker.TranscriptJob) (*meetingbot.TranscriptResult, error)
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Fetcher TranscriptFetcher
}

var deps *Dependencies

// handler is invoked asynchronously by the meeting bot when a meeting ends.
func handler(ctx context.Context, job worker.TranscriptJob) (*meetingbot.TranscriptResult, error) {
	requestID := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		requestID = lc.AwsRequestID
	}

	ctx, span := tracing.StartHandlerSpan(ctx, "TranscriptFetchHandler",
		tracing.Function("transcript-fetch"),
		tracing.RequestID(requestID),
	)
	defer span.End()
	span.SetAttributes(attribute.String("meeting.id", job.MeetingID))

	if job.JoinURL == "" || job.UserID == "" {
		logger.ErrorContext(ctx, "Transcript job is missing joinUrl or userId",
			slog.String("meeting_id", job.MeetingID),
		)
		return nil, fmt.Errorf("invalid transcript job: joinUrl and userId are required")
	}

	result, err := deps.Fetcher.FetchTranscript(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "Transcript fetch failed",
			slog.String("meeting_id", job.MeetingID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	logger.InfoContext(ctx, "Transcript fetch finished",
		slog.String("meeting_id", job.MeetingID),
		slog.String("status", result.Status),
		slog.String("key", result.Key),
	)
	return result, nil
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	required := map[string]string{}
	for _, name := range []string{"MEETINGS_TABLE", "BOT_APP_ID", "GRAPH_TENANT_ID", "TRANSCRIPT_BUCKET"} {
		value, err := config.Require(name)
		if err != nil {
			logger.Error("FATAL: " + err.Error())
			panic(err)
		}
		required[name] = value
	}
	botAppID := required["BOT_APP_ID"]

	resolver := secrets.NewResolver(
		secretsmanager.NewFromConfig(result.Config),
		ssm.NewFromConfig(result.Config),
	)
	botAppSecret, err := resolver.Resolve(result.Ctx, "BOT_APP_SECRET")
	if err != nil {
		logger.Error("FATAL: Failed to resolve BOT_APP_SECRET",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	s3Client := s3.NewFromConfig(result.Config)
	botDeps := meetingbot.Deps{
		Sessions: db.NewSessionStore(dynamodb.NewFromConfig(result.Config), required["MEETINGS_TABLE"]),
		Graph: graph.NewClient(aadauth.NewHTTPClient(ctx, aadauth.Config{
			TenantID:     required["GRAPH_TENANT_ID"],
			ClientID:     config.String("GRAPH_CLIENT_ID", botAppID),
			ClientSecret: botAppSecret,
			Scopes:       []string{aadauth.GraphScope},
		})),
		Messenger: botframework.NewConnector(aadauth.NewHTTPClient(ctx, aadauth.Config{
			TenantID:     config.String("BOT_TENANT_ID", aadauth.BotFrameworkTenant),
			ClientID:     botAppID,
			ClientSecret: botAppSecret,
			Scopes:       []string{aadauth.BotFrameworkScope},
		})),
		Transcripts: objectstore.NewStore(s3Client, s3.NewPresignClient(s3Client), required["TRANSCRIPT_BUCKET"]),
	}
	if queue := config.String("TRANSCRIPT_QUEUE_URL", ""); queue != "" {
		botDeps.Notifier = notify.NewPublisher(sqs.NewFromConfig(result.Config), queue)
	}
	if namespace := config.String("METRIC_NAMESPACE", ""); namespace != "" {
		botDeps.Metrics = metrics.NewPublisher(cloudwatch.NewFromConfig(result.Config), namespace)
	}

	deps = &Dependencies{
		Fetcher: meetingbot.New(meetingbot.Config{
			BotAppID:             botAppID,
			TranscriptDelay:      time.Duration(config.Int("TRANSCRIPT_DELAY_SECONDS", 30)) * time.Second,
			TranscriptLinkExpiry: time.Duration(config.Int("TRANSCRIPT_LINK_EXPIRY_HOURS", 24)) * time.Hour,
		}, botDeps, logger),
	}

	result.Start(handler)
}
