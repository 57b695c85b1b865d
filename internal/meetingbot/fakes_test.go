package meetingbot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/graph"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/subscription"
	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/worker"
)

var testNow = time.Date(2026, 2, 13, 22, 0, 0, 0, time.UTC)

type fakeGraph struct {
	mu sync.Mutex

	getOnlineMeetingFunc   func(userID, meetingID string) (*graph.OnlineMeeting, error)
	findByJoinURLFunc      func(userID, joinURL string) (*graph.OnlineMeeting, error)
	updateMeetingFunc      func(userID, meetingID string, update graph.MeetingUpdate) error
	listTranscriptsFunc    func(userID, meetingID string) ([]graph.Transcript, error)
	transcriptContentFunc  func(userID, meetingID, transcriptID, format string) ([]byte, error)
	listUpcomingFunc       func(userID string, lookahead time.Duration) ([]graph.CalendarEvent, error)
	isAppInstalledFunc     func(chatID, catalogAppID string) (bool, error)
	installAppFunc         func(chatID, catalogAppID string) error
	isUserInGroupFunc      func(userID, groupID string) (bool, error)
	getOnlineMeetingCalls  int
	listTranscriptsCalls   int
	installs               []string
	updatedMeetings        []string
	groupMembershipLookups int
}

func (f *fakeGraph) GetOnlineMeeting(_ context.Context, userID, meetingID string) (*graph.OnlineMeeting, error) {
	f.mu.Lock()
	f.getOnlineMeetingCalls++
	f.mu.Unlock()
	if f.getOnlineMeetingFunc == nil {
		return nil, graph.ErrNotFound
	}
	return f.getOnlineMeetingFunc(userID, meetingID)
}

func (f *fakeGraph) FindOnlineMeetingByJoinURL(_ context.Context, userID, joinURL string) (*graph.OnlineMeeting, error) {
	if f.findByJoinURLFunc == nil {
		return nil, graph.ErrNotFound
	}
	return f.findByJoinURLFunc(userID, joinURL)
}

func (f *fakeGraph) UpdateOnlineMeeting(_ context.Context, userID, meetingID string, update graph.MeetingUpdate) error {
	f.mu.Lock()
	f.updatedMeetings = append(f.updatedMeetings, meetingID)
	f.mu.Unlock()
	if f.updateMeetingFunc == nil {
		return nil
	}
	return f.updateMeetingFunc(userID, meetingID, update)
}

func (f *fakeGraph) ListTranscripts(_ context.Context, userID, meetingID string) ([]graph.Transcript, error) {
	f.mu.Lock()
	f.listTranscriptsCalls++
	f.mu.Unlock()
	if f.listTranscriptsFunc == nil {
		return nil, nil
	}
	return f.listTranscriptsFunc(userID, meetingID)
}

func (f *fakeGraph) GetTranscriptContent(_ context.Context, userID, meetingID, transcriptID, format string) ([]byte, error) {
	if f.transcriptContentFunc == nil {
		return []byte("WEBVTT\n"), nil
	}
	return f.transcriptContentFunc(userID, meetingID, transcriptID, format)
}

func (f *fakeGraph) ListUpcomingOnlineMeetings(_ context.Context, userID string, lookahead time.Duration) ([]graph.CalendarEvent, error) {
	if f.listUpcomingFunc == nil {
		return nil, nil
	}
	return f.listUpcomingFunc(userID, lookahead)
}

func (f *fakeGraph) IsAppInstalled(_ context.Context, chatID, catalogAppID string) (bool, error) {
	if f.isAppInstalledFunc == nil {
		return false, nil
	}
	return f.isAppInstalledFunc(chatID, catalogAppID)
}

func (f *fakeGraph) InstallApp(_ context.Context, chatID, catalogAppID string) error {
	if f.installAppFunc != nil {
		if err := f.installAppFunc(chatID, catalogAppID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.installs = append(f.installs, chatID)
	f.mu.Unlock()
	return nil
}

func (f *fakeGraph) IsUserInGroup(_ context.Context, userID, groupID string) (bool, error) {
	f.mu.Lock()
	f.groupMembershipLookups++
	f.mu.Unlock()
	if f.isUserInGroupFunc == nil {
		return false, nil
	}
	return f.isUserInGroupFunc(userID, groupID)
}

type sentMessage struct {
	ServiceURL     string
	ConversationID string
	ReplyTo        string
	Text           string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, serviceURL, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ServiceURL: serviceURL, ConversationID: conversationID, Text: text})
	return f.err
}

func (f *fakeMessenger) ReplyToActivity(_ context.Context, serviceURL, conversationID, activityID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ServiceURL: serviceURL, ConversationID: conversationID, ReplyTo: activityID, Text: text})
	return f.err
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeSessions struct {
	mu     sync.Mutex
	items  map[string]db.Session
	saves  []db.Session
	getErr error
}

func newFakeSessions(items ...db.Session) *fakeSessions {
	f := &fakeSessions{items: map[string]db.Session{}}
	for _, s := range items {
		f.items[s.MeetingID] = s
	}
	return f
}

func (f *fakeSessions) Get(_ context.Context, meetingID string) (*db.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.items[meetingID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSessions) Save(_ context.Context, session db.Session) (*db.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, session)
	f.items[session.MeetingID] = session
	return &session, nil
}

// saved returns every save made for key, in order.
func (f *fakeSessions) saved(key string) []db.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Session
	for _, s := range f.saves {
		if s.MeetingID == key {
			out = append(out, s)
		}
	}
	return out
}

type storedObject struct {
	ContentType string
	Body        []byte
}

type fakeTranscriptStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
}

func (f *fakeTranscriptStore) Put(_ context.Context, key, contentType string, body []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]storedObject{}
	}
	f.objects[key] = storedObject{ContentType: contentType, Body: body}
	return nil
}

func (f *fakeTranscriptStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeTranscriptStore) Bucket() string { return "transcripts-bucket" }

type notifiedTranscript struct {
	MeetingID, TranscriptID, Bucket, Key string
}

type fakeNotifier struct {
	events []notifiedTranscript
}

func (f *fakeNotifier) TranscriptStored(_ context.Context, meetingID, transcriptID, bucket, key string) error {
	f.events = append(f.events, notifiedTranscript{meetingID, transcriptID, bucket, key})
	return nil
}

type fakeJobs struct {
	jobs []worker.TranscriptJob
	err  error
}

func (f *fakeJobs) Enqueue(_ context.Context, job worker.TranscriptJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	values map[string]float64
}

func (f *fakeMetrics) PublishMetric(_ context.Context, name string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]float64{}
	}
	f.values[name] += value
	return nil
}

type fakeValidator struct {
	err   error
	calls int
}

func (f *fakeValidator) Validate(_ context.Context, _, _ string) error {
	f.calls++
	return f.err
}

type fakeSubscriptions struct {
	renewed   []string
	recreated int
}

func (f *fakeSubscriptions) Renew(_ context.Context, id string) (*subscription.Result, error) {
	f.renewed = append(f.renewed, id)
	return &subscription.Result{Action: subscription.ActionRenewed, SubscriptionID: id}, nil
}

func (f *fakeSubscriptions) Recreate(_ context.Context) (*subscription.Result, error) {
	f.recreated++
	return &subscription.Result{Action: subscription.ActionCreated, SubscriptionID: "new-sub"}, nil
}

type testBot struct {
	*Bot
	graph         *fakeGraph
	messenger     *fakeMessenger
	sessions      *fakeSessions
	transcripts   *fakeTranscriptStore
	notifier      *fakeNotifier
	metrics       *fakeMetrics
	subscriptions *fakeSubscriptions
	sleeps        []time.Duration
}

func newTestBot(t *testing.T, cfg Config, sessions ...db.Session) *testBot {
	t.Helper()

	if cfg.BotAppID == "" {
		cfg.BotAppID = "test-bot-app-id"
	}
	if cfg.NotificationClientState == "" {
		cfg.NotificationClientState = "expected-state"
	}

	tb := &testBot{
		graph:         &fakeGraph{},
		messenger:     &fakeMessenger{},
		sessions:      newFakeSessions(sessions...),
		transcripts:   &fakeTranscriptStore{},
		notifier:      &fakeNotifier{},
		metrics:       &fakeMetrics{},
		subscriptions: &fakeSubscriptions{},
	}
	tb.Bot = New(cfg, Deps{
		Sessions:      tb.sessions,
		Graph:         tb.graph,
		Messenger:     tb.messenger,
		Transcripts:   tb.transcripts,
		Notifier:      tb.notifier,
		Metrics:       tb.metrics,
		Subscriptions: tb.subscriptions,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tb.Bot.now = func() time.Time { return testNow }
	tb.Bot.sleep = func(_ context.Context, d time.Duration) error {
		tb.sleeps = append(tb.sleeps, d)
		return nil
	}
	return tb
}

// httpEvent builds an API Gateway REST proxy event.
func httpEvent(t *testing.T, method, path string, body any, query map[string]string) []byte {
	t.Helper()

	ev := map[string]any{
		"path":       path,
		"httpMethod": method,
		"headers":    map[string]string{"Content-Type": "application/json"},
	}
	if query != nil {
		ev["queryStringParameters"] = query
	}
	switch v := body.(type) {
	case nil:
	case string:
		ev["body"] = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		ev["body"] = string(data)
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func activityEvent(t *testing.T, activity map[string]any) []byte {
	t.Helper()
	return httpEvent(t, "POST", RouteMessages, activity, nil)
}

func decodeBody(t *testing.T, resp Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("response body is not JSON: %q", resp.Body)
	}
	return body
}

func containsText(texts []string, substr string) bool {
	for _, text := range texts {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}
