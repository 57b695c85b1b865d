package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

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
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/subscription"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

var logger = logging.New()

// EventHandler processes one raw Lambda event
type EventHandler interface {
	Handle(ctx context.Context, raw []byte) meetingbot.Response
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Bot EventHandler
}

var deps *Dependencies

// handler serves Bot Framework activities, Graph notifications and the
// auto-install schedule from one function.
func handler(ctx context.Context, event json.RawMessage) (meetingbot.Response, error) {
	requestID := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		requestID = lc.AwsRequestID
	}

	ctx, span := tracing.StartHandlerSpan(ctx, "MeetingBotHandler",
		tracing.Function("meeting-bot"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	resp := deps.Bot.Handle(ctx, event)
	if resp.StatusCode >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Meeting bot request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("request_id", requestID),
		)
	}
	return resp, nil
}

// botConfig reads the bot's behaviour settings from the environment.
func botConfig(botAppID, clientState string) meetingbot.Config {
	return meetingbot.Config{
		BotAppID:                botAppID,
		BotName:                 config.String("BOT_NAME", meetingbot.DefaultBotName),
		AllowedGroupID:          config.String("ALLOWED_GROUP_ID", ""),
		CatalogAppID:            config.String("TEAMS_CATALOG_APP_ID", ""),
		WatchedUserIDs:          config.List("WATCHED_USER_IDS"),
		PollLookahead:           config.Minutes("POLL_LOOKAHEAD_MINUTES", 60),
		NotificationClientState: clientState,
		AuthEnabled:             config.Bool("BOT_AUTH_ENABLED"),
		TranscriptDelay:         time.Duration(config.Int("TRANSCRIPT_DELAY_SECONDS", 30)) * time.Second,
		TranscriptLinkExpiry:    time.Duration(config.Int("TRANSCRIPT_LINK_EXPIRY_HOURS", 24)) * time.Hour,
		InstallConcurrency:      config.Int("AUTO_INSTALL_CONCURRENCY", 4),
	}
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("meeting-bot"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	tableName, err := config.Require("MEETINGS_TABLE")
	if err != nil {
		logger.Error("FATAL: " + err.Error())
		panic(err)
	}
	botAppID, err := config.Require("BOT_APP_ID")
	if err != nil {
		logger.Error("FATAL: " + err.Error())
		panic(err)
	}
	graphTenantID, err := config.Require("GRAPH_TENANT_ID")
	if err != nil {
		logger.Error("FATAL: " + err.Error())
		panic(err)
	}

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
	clientState, err := resolver.Optional(result.Ctx, "GRAPH_NOTIFICATION_CLIENT_STATE")
	if err != nil {
		logger.Error("FATAL: Failed to resolve GRAPH_NOTIFICATION_CLIENT_STATE",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	graphClient := graph.NewClient(aadauth.NewHTTPClient(ctx, aadauth.Config{
		TenantID:     graphTenantID,
		ClientID:     config.String("GRAPH_CLIENT_ID", botAppID),
		ClientSecret: botAppSecret,
		Scopes:       []string{aadauth.GraphScope},
	}))
	connector := botframework.NewConnector(aadauth.NewHTTPClient(ctx, aadauth.Config{
		TenantID:     config.String("BOT_TENANT_ID", aadauth.BotFrameworkTenant),
		ClientID:     botAppID,
		ClientSecret: botAppSecret,
		Scopes:       []string{aadauth.BotFrameworkScope},
	}))
	sessions := db.NewSessionStore(dynamodb.NewFromConfig(result.Config), tableName)

	botDeps := meetingbot.Deps{
		Sessions:  sessions,
		Graph:     graphClient,
		Messenger: connector,
		Validator: botframework.NewValidator(botAppID, &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		}),
	}

	if bucket := config.String("TRANSCRIPT_BUCKET", ""); bucket != "" {
		s3Client := s3.NewFromConfig(result.Config)
		botDeps.Transcripts = objectstore.NewStore(s3Client, s3.NewPresignClient(s3Client), bucket)
	} else {
		logger.Warn("TRANSCRIPT_BUCKET is not set; transcripts will only be posted to chat")
	}
	if queue := config.String("TRANSCRIPT_QUEUE_URL", ""); queue != "" {
		botDeps.Notifier = notify.NewPublisher(sqs.NewFromConfig(result.Config), queue)
	}
	if fn := config.String("TRANSCRIPT_FUNCTION_NAME", ""); fn != "" {
		botDeps.Jobs = worker.NewLambdaInvoker(awslambda.NewFromConfig(result.Config), fn)
	}
	if namespace := config.String("METRIC_NAMESPACE", ""); namespace != "" {
		botDeps.Metrics = metrics.NewPublisher(cloudwatch.NewFromConfig(result.Config), namespace)
	}
	if notificationURL := config.String("GRAPH_NOTIFICATION_URL", ""); notificationURL != "" {
		botDeps.Subscriptions = subscription.NewManager(graphClient, sessions, subscription.Config{
			NotificationURL: notificationURL,
			LifecycleURL:    config.String("GRAPH_LIFECYCLE_URL", ""),
			ClientState:     clientState,
			Logger:          logger,
		})
	}

	deps = &Dependencies{
		Bot: meetingbot.New(botConfig(botAppID, clientState), botDeps, logger),
	}

	result.Start(handler)
}
