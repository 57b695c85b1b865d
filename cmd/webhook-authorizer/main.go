package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/secrets"
)

var logger = logging.New()

// Policy effects
const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"
)

// AuthorizerRequest is a REQUEST authorizer event. API Gateway forwards the
// body when the authorizer is configured with it as an identity source.
type AuthorizerRequest struct {
	events.APIGatewayCustomAuthorizerRequestTypeRequest
	Body string `json:"body"`
}

// Config holds application configuration
type Config struct {
	ClientState string
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Config Config
}

var deps *Dependencies

type graphNotification struct {
	ClientState *string `json:"clientState"`
}

type notificationBatch struct {
	Value []graphNotification `json:"value"`
}

// handler decides whether a Graph webhook call may reach the backend. It
// never returns an error: anything unexpected is a Deny.
func handler(ctx context.Context, request AuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	ctx, span := tracing.StartHandlerSpan(ctx, "WebhookAuthorizerHandler",
		tracing.Function("webhook-authorizer"),
		tracing.RequestID(request.RequestContext.RequestID),
	)
	defer span.End()

	effect, reason := authorize(request)
	span.SetAttributes(
		attribute.String("authorizer.effect", effect),
		attribute.String("authorizer.reason", reason),
	)

	if effect == EffectAllow {
		logger.InfoContext(ctx, "Webhook request allowed", slog.String("reason", reason))
	} else {
		logger.WarnContext(ctx, "Webhook request denied",
			slog.String("reason", reason),
			slog.String("method_arn", request.MethodArn),
		)
	}

	return buildPolicy(effect, request.MethodArn, reason), nil
}

func authorize(request AuthorizerRequest) (effect, reason string) {
	if _, ok := request.QueryStringParameters["validationToken"]; ok {
		return EffectAllow, "validation_token"
	}

	method := requestMethod(request)
	if method != "POST" {
		return EffectDeny, "method_not_allowed"
	}

	if deps == nil || deps.Config.ClientState == "" {
		return EffectDeny, "client_state_not_configured"
	}
	if strings.TrimSpace(request.Body) == "" {
		return EffectDeny, "missing_body"
	}

	var batch notificationBatch
	if err := json.Unmarshal([]byte(request.Body), &batch); err != nil {
		return EffectDeny, "invalid_json"
	}
	if len(batch.Value) == 0 {
		return EffectDeny, "no_notifications"
	}

	expected := []byte(deps.Config.ClientState)
	for _, n := range batch.Value {
		if n.ClientState == nil {
			return EffectDeny, "missing_client_state"
		}
		if subtle.ConstantTimeCompare([]byte(*n.ClientState), expected) != 1 {
			return EffectDeny, "client_state_mismatch"
		}
	}
	return EffectAllow, "client_state_valid"
}

// requestMethod returns httpMethod, falling back to the verb in methodArn
// (arn:aws:execute-api:region:account:api/stage/VERB/path).
func requestMethod(request AuthorizerRequest) string {
	if request.HTTPMethod != "" {
		return strings.ToUpper(request.HTTPMethod)
	}
	parts := strings.Split(request.MethodArn, "/")
	if len(parts) > 2 {
		return strings.ToUpper(parts[2])
	}
	return ""
}

func buildPolicy(effect, methodArn, reason string) events.APIGatewayCustomAuthorizerResponse {
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: "user",
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: "2012-10-17",
			Statement: []events.IAMPolicyStatement{
				{
					Action:   []string{"execute-api:Invoke"},
					Effect:   effect,
					Resource: []string{methodArn},
				},
			},
		},
		Context: map[string]any{"reason": reason},
	}
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

	resolver := secrets.NewResolver(
		secretsmanager.NewFromConfig(result.Config),
		ssm.NewFromConfig(result.Config),
	)

	clientState, err := resolver.Optional(result.Ctx, "CLIENT_STATE")
	if err != nil {
		logger.Error("FATAL: Failed to resolve client state",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	if clientState == "" {
		logger.Warn("CLIENT_STATE is not configured; every notification POST will be denied")
	}

	deps = &Dependencies{
		Config: Config{ClientState: clientState},
	}

	result.Start(handler)
}
