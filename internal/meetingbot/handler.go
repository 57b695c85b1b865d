package meetingbot

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/botframework"
)

// Routes served by the bot.
const (
	RouteMessages      = "/bot/messages"
	RouteMessagesAlt   = "/api/messages"
	RouteNotifications = "/bot/notifications"
	RouteLifecycle     = "/bot/lifecycle"
	RouteConfig        = "/bot/config"
)

// Handle processes one raw Lambda event. It never returns an error: every
// failure is reported through the response status.
func (b *Bot) Handle(ctx context.Context, raw []byte) Response {
	ctx, span := b.tracer.Start(ctx, "meetingbot.Handle")
	defer span.End()

	req, scheduled, err := parseEvent(raw)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to parse event", slog.String("error", err.Error()))
		span.SetStatus(codes.Error, err.Error())
		return statusResponse(http.StatusBadRequest, "invalid_event")
	}

	if scheduled {
		span.SetAttributes(attribute.String("meetingbot.route", "scheduled"))
		result := b.PollAutoInstall(ctx)
		return jsonResponse(http.StatusOK, result)
	}

	span.SetAttributes(attribute.String("meetingbot.route", req.Path))

	if token, ok := req.Query["validationToken"]; ok && (matchRoute(req.Path, RouteNotifications) || matchRoute(req.Path, RouteLifecycle)) {
		return textResponse(http.StatusOK, token)
	}

	switch {
	case matchRoute(req.Path, RouteNotifications):
		return b.handleNotifications(ctx, req)
	case matchRoute(req.Path, RouteLifecycle):
		return b.handleLifecycle(ctx, req)
	case matchRoute(req.Path, RouteConfig):
		return configPageResponse(b.cfg.BotName)
	case matchRoute(req.Path, RouteMessages), matchRoute(req.Path, RouteMessagesAlt):
		return b.handleActivityRequest(ctx, req)
	default:
		b.logger.InfoContext(ctx, "Ignoring unknown route", slog.String("path", req.Path))
		return statusResponse(http.StatusOK, "ignored")
	}
}

func (b *Bot) handleActivityRequest(ctx context.Context, req *Request) Response {
	activity, err := botframework.ParseActivity(req.Body)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to parse activity", slog.String("error", err.Error()))
		return statusResponse(http.StatusInternalServerError, "error")
	}

	if b.cfg.AuthEnabled && b.deps.Validator != nil {
		if err := b.deps.Validator.Validate(ctx, req.Header("Authorization"), activity.ServiceURL); err != nil {
			b.logger.WarnContext(ctx, "Rejected activity token", slog.String("error", err.Error()))
			return statusResponse(http.StatusUnauthorized, "unauthorized")
		}
	}

	return b.HandleActivity(ctx, activity)
}
