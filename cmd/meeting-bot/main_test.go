package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/meetingbot"
)

type mockBot struct {
	raw  []byte
	resp meetingbot.Response
}

func (m *mockBot) Handle(ctx context.Context, raw []byte) meetingbot.Response {
	m.raw = raw
	return m.resp
}

func TestHandler_PassesRawEventThrough(t *testing.T) {
	bot := &mockBot{resp: meetingbot.Response{StatusCode: 202, Body: `{"status":"accepted"}`}}
	deps = &Dependencies{Bot: bot}
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})

	resp, err := handler(ctx, json.RawMessage(`{"path":"/bot/notifications"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(bot.raw) != `{"path":"/bot/notifications"}` {
		t.Errorf("unexpected raw event %s", bot.raw)
	}
	if resp.StatusCode != 202 {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}
}

func TestHandler_ErrorsAreResponsesNotLambdaFailures(t *testing.T) {
	deps = &Dependencies{Bot: &mockBot{resp: meetingbot.Response{StatusCode: 500}}}

	resp, err := handler(context.Background(), json.RawMessage(`{}`))

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestBotConfig_Defaults(t *testing.T) {
	for _, name := range []string{"BOT_NAME", "ALLOWED_GROUP_ID", "TEAMS_CATALOG_APP_ID", "WATCHED_USER_IDS",
		"POLL_LOOKAHEAD_MINUTES", "BOT_AUTH_ENABLED", "TRANSCRIPT_DELAY_SECONDS"} {
		t.Setenv(name, "")
	}

	cfg := botConfig("app-id", "state")

	if cfg.BotName != "Meeting Fetcher" {
		t.Errorf("expected default bot name, got %q", cfg.BotName)
	}
	if cfg.PollLookahead != 60*time.Minute {
		t.Errorf("expected 60m lookahead, got %v", cfg.PollLookahead)
	}
	if cfg.TranscriptDelay != 30*time.Second {
		t.Errorf("expected 30s delay, got %v", cfg.TranscriptDelay)
	}
	if cfg.AuthEnabled {
		t.Error("auth should default to disabled")
	}
	if len(cfg.WatchedUserIDs) != 0 {
		t.Errorf("expected no watched users, got %v", cfg.WatchedUserIDs)
	}
	if cfg.BotAppID != "app-id" || cfg.NotificationClientState != "state" {
		t.Errorf("unexpected identity %+v", cfg)
	}
}

func TestBotConfig_FromEnvironment(t *testing.T) {
	t.Setenv("WATCHED_USER_IDS", "user-1, user-2,,")
	t.Setenv("POLL_LOOKAHEAD_MINUTES", "90")
	t.Setenv("BOT_AUTH_ENABLED", "true")
	t.Setenv("ALLOWED_GROUP_ID", "group-1")
	t.Setenv("TEAMS_CATALOG_APP_ID", "catalog-1")

	cfg := botConfig("app-id", "")

	if len(cfg.WatchedUserIDs) != 2 || cfg.WatchedUserIDs[1] != "user-2" {
		t.Errorf("unexpected watched users %v", cfg.WatchedUserIDs)
	}
	if cfg.PollLookahead != 90*time.Minute {
		t.Errorf("expected 90m, got %v", cfg.PollLookahead)
	}
	if !cfg.AuthEnabled || cfg.AllowedGroupID != "group-1" || cfg.CatalogAppID != "catalog-1" {
		t.Errorf("unexpected config %+v", cfg)
	}
}
