package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/aadauth"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/config"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/metrics"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/secrets"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/subscription"
)

var logger = logging.New()

// SubscriptionEnsurer creates or renews the transcript subscription
type SubscriptionEnsurer interface {
	Ensure(ctx context.Context) (*subscription.Result, error)
}

// MetricsPublisher publishes metrics to CloudWatch
type MetricsPublisher interface {
	PublishHours(ctx context.Context, name string, d time.Duration) error
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Subscriptions SubscriptionEnsurer
	Metrics       MetricsPublisher
}

var deps *Dependencies

// checkSubscription ensures the subscription exists and publishes its remaining lifetime
func checkSubscription(ctx context.Context) (*subscription.Result, error) {
	result, err := deps.Subscriptions.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure transcript subscription: %w", err)
	}

	if deps.Metrics != nil {
		if err := deps.Metrics.PublishHours(ctx, metrics.TranscriptSubscriptionHoursRemaining, result.Remaining); err != nil {
			return nil, fmt.Errorf("failed to publish metric: %w", err)
		}
	}

	logger.InfoContext(ctx, "Subscription check completed",
		slog.String("action", result.Action),
		slog.String("subscription_id", result.SubscriptionID),
		slog.String("expires_at", result.ExpiresAt.UTC().Format(time.RFC3339)),
		slog.Float64("hours_remaining", result.Remaining.Hours()),
	)

	return result, nil
}

// handler is the Lambda entry point
func handler(ctx context.Context) error {
	_, err := checkSubscription(ctx)
	return err
}

func main() {
	ctx := context.Background()

	// Initialize tracer provider
	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	// Create cold start span - all init AWS calls become children
	ctx, coldStartSpan := tracing.StartColdStartSpan(ctx, "subscription-check")
	defer coldStartSpan.End()

	required := map[string]string{}
	for _, name := range []string{"MEETINGS_TABLE", "BOT_APP_ID", "GRAPH_TENANT_ID", "GRAPH_NOTIFICATION_URL"} {
		value, err := config.Require(name)
		if err != nil {
			logger.Error("FATAL: " + err.Error())
			panic(err)
		}
		required[name] = value
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	resolver := secrets.NewResolver(secretsmanager.NewFromConfig(cfg), ssm.NewFromConfig(cfg))
	botAppSecret, err := resolver.Resolve(ctx, "BOT_APP_SECRET")
	if err != nil {
		logger.Error("FATAL: Failed to resolve BOT_APP_SECRET",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	clientState, err := resolver.Resolve(ctx, "GRAPH_NOTIFICATION_CLIENT_STATE")
	if err != nil {
		logger.Error("FATAL: Failed to resolve GRAPH_NOTIFICATION_CLIENT_STATE",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	graphClient := graph.NewClient(aadauth.NewHTTPClient(ctx, aadauth.Config{
		TenantID:     required["GRAPH_TENANT_ID"],
		ClientID:     config.String("GRAPH_CLIENT_ID", required["BOT_APP_ID"]),
		ClientSecret: botAppSecret,
		Scopes:       []string{aadauth.GraphScope},
	}))

	deps = &Dependencies{
		Subscriptions: subscription.NewManager(
			graphClient,
			db.NewSessionStore(dynamodb.NewFromConfig(cfg), required["MEETINGS_TABLE"]),
			subscription.Config{
				NotificationURL: required["GRAPH_NOTIFICATION_URL"],
				LifecycleURL:    config.String("GRAPH_LIFECYCLE_URL", ""),
				ClientState:     clientState,
				RenewThreshold:  time.Duration(config.Int("RENEW_THRESHOLD_HOURS", 24)) * time.Hour,
				Logger:          logger,
			},
		),
	}
	if namespace := config.String("METRIC_NAMESPACE", ""); namespace != "" {
		deps.Metrics = metrics.NewPublisher(cloudwatch.NewFromConfig(cfg), namespace)
	}

	lambda.Start(otellambda.InstrumentHandler(handler, xrayconfig.WithRecommendedOptions(tp)...))
}
