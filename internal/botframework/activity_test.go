package botframework

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseActivity_MeetingStartPascalCase(t *testing.T) {
	raw := `{
		"type": "event",
		"name": "application/vnd.microsoft.meetingStart",
		"serviceUrl": "https://smba.trafficmanager.net/test/",
		"from": {"id": "29:sender-id", "aadObjectId": "organizer-aad-id"},
		"conversation": {"id": "19:meeting_test@thread.v2"},
		"channelData": {"tenant": {"id": "test-tenant"}, "meeting": {"id": "channel-meeting-id"}},
		"value": {"Id": "test-meeting-id-base64==", "JoinUrl": "https://teams.microsoft.com/l/meetup-join/test", "Title": "Test Meeting"}
	}`

	a, err := ParseActivity([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, TypeEvent, a.Type)
	require.Equal(t, EventMeetingStart, a.Name)
	require.Equal(t, "organizer-aad-id", a.From.AADObjectID)
	require.Equal(t, "test-meeting-id-base64==", a.MeetingID())
	require.Equal(t, "https://teams.microsoft.com/l/meetup-join/test", a.JoinURL())
	require.Equal(t, "Test Meeting", a.Title())
	require.Equal(t, "test-tenant", a.TenantID())
}

func TestParseActivity_CamelCaseAndChannelDataFallback(t *testing.T) {
	a, err := ParseActivity([]byte(`{"type":"event","value":{"joinUrl":"https://join"},"channelData":{"meeting":{"id":"m-1"}}}`))
	require.NoError(t, err)
	require.Equal(t, "m-1", a.MeetingID())
	require.Equal(t, "https://join", a.JoinURL())
}

func TestParseActivity_NullType(t *testing.T) {
	a, err := ParseActivity([]byte(`{"type":null}`))
	require.NoError(t, err)
	require.Equal(t, "", a.Type)
	require.Equal(t, "", a.MeetingID())
}

func TestParseActivity_Invalid(t *testing.T) {
	_, err := ParseActivity([]byte(`{broken json`))
	require.Error(t, err)
}

func TestParticipantNames(t *testing.T) {
	a, err := ParseActivity([]byte(`{"type":"event","value":{"members":[{"user":{"id":"u1","name":"Eve"}}]}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"Eve"}, a.ParticipantNames())
}

func TestNames_FallsBackToID(t *testing.T) {
	require.Equal(t, []string{"Alice", "29:x"}, Names([]ChannelAccount{{ID: "29:a", Name: "Alice"}, {ID: "29:x"}}))
}

func TestBotAccountID(t *testing.T) {
	require.Equal(t, "28:test-bot-app-id", BotAccountID("test-bot-app-id"))
}
