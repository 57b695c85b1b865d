package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/objectstore"
)

var logger = logging.New()

// WebhookSource tags every staged record.
const WebhookSource = "graph-webhook"

// Storage stages notification batches
type Storage interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// Config holds application configuration
type Config struct {
	BucketName string
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Storage Storage
	Config  Config
	Now     func() time.Time
	NewID   func() string
}

var deps *Dependencies

// Response is the API Gateway proxy response
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// StagedNotification is the S3 record for one webhook call.
type StagedNotification struct {
	ReceivedAt string          `json:"receivedAt"`
	RequestID  string          `json:"requestId"`
	Source     string          `json:"source"`
	Body       json.RawMessage `json:"body"`
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (Response, error) {
	ctx, span := tracing.StartHandlerSpan(ctx, "GraphWebhookHandler",
		tracing.Function("graph-webhook"),
		tracing.RequestID(request.RequestContext.RequestID),
	)
	defer span.End()

	if token, ok := request.QueryStringParameters["validationToken"]; ok {
		logger.InfoContext(ctx, "Answering subscription validation")
		return Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       token,
		}, nil
	}

	if deps.Config.BucketName == "" {
		logger.ErrorContext(ctx, "BUCKET_NAME is not configured")
		return errorResponse(http.StatusInternalServerError, "configuration_error", "BUCKET_NAME is not configured"), nil
	}

	if request.Body == "" {
		return errorResponse(http.StatusBadRequest, "invalid_request", "Missing request body"), nil
	}
	if !json.Valid([]byte(request.Body)) {
		logger.WarnContext(ctx, "Rejected invalid JSON body",
			slog.String("request_id", request.RequestContext.RequestID),
		)
		return errorResponse(http.StatusBadRequest, "invalid_request", "Body is not valid JSON"), nil
	}

	now := deps.Now().UTC()
	key := objectstore.WebhookKey(now, deps.NewID())
	span.SetAttributes(attribute.String("s3.key", key))

	record := StagedNotification{
		ReceivedAt: now.Format(time.RFC3339Nano),
		RequestID:  request.RequestContext.RequestID,
		Source:     WebhookSource,
		Body:       json.RawMessage(request.Body),
	}

	if err := deps.Storage.PutJSON(ctx, key, record); err != nil {
		logger.ErrorContext(ctx, "Failed to stage notification",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return errorResponse(http.StatusInternalServerError, "storage_error", "Failed to store notification"), nil
	}

	logger.InfoContext(ctx, "Staged Graph notification",
		slog.String("key", key),
		slog.String("request_id", request.RequestContext.RequestID),
	)

	body, _ := json.Marshal(map[string]string{"status": "ok", "key": key})
	return Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}, nil
}

func errorResponse(statusCode int, errorType, message string) Response {
	body, _ := json.Marshal(map[string]string{"error": errorType, "message": message})
	return Response{
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("graph-webhook"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	// A missing bucket is reported per request so validation handshakes still succeed.
	bucketName := os.Getenv("BUCKET_NAME")
	if bucketName == "" {
		logger.Warn(fmt.Sprintf("BUCKET_NAME is not set; %s will reject notifications", WebhookSource))
	}

	s3Client := s3.NewFromConfig(result.Config)

	deps = &Dependencies{
		Storage: objectstore.NewStore(s3Client, s3.NewPresignClient(s3Client), bucketName),
		Config:  Config{BucketName: bucketName},
		Now:     time.Now,
		NewID:   uuid.NewString,
	}

	result.Start(handler)
}
