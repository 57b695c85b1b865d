package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/config"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/eventhub"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/metrics"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/objectstore"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/secrets"
)

var logger = logging.New()

// Storage stages poll batches
type Storage interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// MetricsPublisher publishes metrics to CloudWatch
type MetricsPublisher interface {
	PublishMetric(ctx context.Context, name string, value float64) error
}

// ConsumerFactory opens a fresh Event Hub consumer for one invocation.
type ConsumerFactory func(ctx context.Context) (eventhub.Consumer, error)

// Config holds application configuration
type Config struct {
	ConsumerGroup     string
	MaxEvents         int
	PollWindowMinutes int
	Wait              time.Duration
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	NewConsumer ConsumerFactory
	Checkpoints eventhub.CheckpointStore
	Storage     Storage
	Metrics     MetricsPublisher
	Config      Config
	Now         func() time.Time
}

var deps *Dependencies

// Batch is the S3 record for one poll.
type Batch struct {
	ReceivedAt        string           `json:"receivedAt"`
	RequestID         string           `json:"requestId"`
	EventCount        int              `json:"eventCount"`
	PollWindowMinutes int              `json:"pollWindowMinutes"`
	Events            []eventhub.Event `json:"events"`
}

// Response is returned to the scheduler
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// handler drains one batch from every partition and stages it in S3. Any
// partition failure fails the invocation so the schedule retries it.
func handler(ctx context.Context, _ json.RawMessage) (Response, error) {
	requestID := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		requestID = lc.AwsRequestID
	}

	ctx, span := tracing.StartHandlerSpan(ctx, "EventHubPollerHandler",
		tracing.Function("eventhub-poller"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	consumer, err := deps.NewConsumer(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("failed to open Event Hub consumer: %w", err)
	}
	defer func() {
		if err := consumer.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "Failed to close Event Hub consumer", slog.String("error", err.Error()))
		}
	}()

	poller := eventhub.NewPoller(consumer, deps.Checkpoints, eventhub.Config{
		ConsumerGroup: deps.Config.ConsumerGroup,
		MaxEvents:     deps.Config.MaxEvents,
		PollWindow:    time.Duration(deps.Config.PollWindowMinutes) * time.Minute,
		Wait:          deps.Config.Wait,
	}, logger)

	events, err := poller.Poll(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Event Hub poll failed", slog.String("error", err.Error()))
		return Response{}, err
	}
	if events == nil {
		events = []eventhub.Event{}
	}

	now := deps.Now().UTC()
	key := objectstore.EventHubKey(now, requestID)
	batch := Batch{
		ReceivedAt:        now.Format("2006-01-02T15:04:05.000Z"),
		RequestID:         firstNonEmpty(requestID, "unknown"),
		EventCount:        len(events),
		PollWindowMinutes: deps.Config.PollWindowMinutes,
		Events:            events,
	}

	if err := deps.Storage.PutJSON(ctx, key, batch); err != nil {
		return Response{}, fmt.Errorf("failed to stage events: %w", err)
	}

	span.SetAttributes(
		attribute.Int("eventhub.event_count", len(events)),
		attribute.String("s3.key", key),
	)

	if deps.Metrics != nil {
		if err := deps.Metrics.PublishMetric(ctx, metrics.EventHubEventsReceived, float64(len(events))); err != nil {
			logger.WarnContext(ctx, "Failed to publish metric", slog.String("error", err.Error()))
		}
	}

	logger.InfoContext(ctx, "Event Hub poll complete",
		slog.Int("event_count", len(events)),
		slog.String("key", key),
	)

	body, _ := json.Marshal(map[string]any{"status": "ok", "eventCount": len(events), "key": key})
	return Response{StatusCode: 200, Body: string(body)}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
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
	for _, name := range []string{"EVENT_HUB_NAMESPACE", "EVENT_HUB_NAME", "BUCKET_NAME", "AZURE_TENANT_ID", "AZURE_CLIENT_ID"} {
		value, err := config.Require(name)
		if err != nil {
			logger.Error("FATAL: " + err.Error())
			panic(err)
		}
		required[name] = value
	}

	resolver := secrets.NewResolver(
		secretsmanager.NewFromConfig(result.Config),
		ssm.NewFromConfig(result.Config),
	)
	clientSecret, err := resolver.Resolve(result.Ctx, "AZURE_CLIENT_SECRET")
	if err != nil {
		logger.Error("FATAL: Failed to resolve AZURE_CLIENT_SECRET",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	consumerGroup := config.String("EVENT_HUB_CONSUMER_GROUP", eventhub.DefaultConsumerGroup)
	azureConfig := eventhub.AzureConfig{
		Namespace:     required["EVENT_HUB_NAMESPACE"],
		EventHubName:  required["EVENT_HUB_NAME"],
		ConsumerGroup: consumerGroup,
		TenantID:      required["AZURE_TENANT_ID"],
		ClientID:      required["AZURE_CLIENT_ID"],
		ClientSecret:  clientSecret,
	}

	var checkpoints eventhub.CheckpointStore
	if table := config.String("EVENTHUB_CHECKPOINT_TABLE", ""); table != "" {
		checkpoints = db.NewCheckpointStore(dynamodb.NewFromConfig(result.Config), table)
	} else {
		logger.Warn("EVENTHUB_CHECKPOINT_TABLE is not set; polling without checkpoints")
	}

	s3Client := s3.NewFromConfig(result.Config)

	var metricsPublisher MetricsPublisher
	if namespace := config.String("METRIC_NAMESPACE", ""); namespace != "" {
		metricsPublisher = metrics.NewPublisher(cloudwatch.NewFromConfig(result.Config), namespace)
	}

	deps = &Dependencies{
		NewConsumer: func(context.Context) (eventhub.Consumer, error) {
			return eventhub.NewAzureConsumer(azureConfig)
		},
		Checkpoints: checkpoints,
		Storage:     objectstore.NewStore(s3Client, s3.NewPresignClient(s3Client), required["BUCKET_NAME"]),
		Metrics:     metricsPublisher,
		Config: Config{
			ConsumerGroup:     consumerGroup,
			MaxEvents:         config.Int("EVENT_HUB_MAX_EVENTS", 50),
			PollWindowMinutes: config.Int("EVENT_HUB_POLL_WINDOW_MINUTES", 10),
			Wait:              time.Duration(config.Int("EVENT_HUB_WAIT_SECONDS", 5)) * time.Second,
		},
		Now: time.Now,
	}

	result.Start(handler)
}
