// Package botframework models Bot Framework activities and talks to the
// Bot Connector service.
package botframework

import (
	"encoding/json"
	"fmt"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/payload"
)

// Activity types handled by the meeting bot.
const (
	TypeMessage            = "message"
	TypeEvent              = "event"
	TypeConversationUpdate = "conversationUpdate"
	TypeInstallationUpdate = "installationUpdate"
	TypeMessageReaction    = "messageReaction"
	TypeMessageUpdate      = "messageUpdate"
	TypeMessageDelete      = "messageDelete"
	TypeTyping             = "typing"
)

// Teams meeting event names.
const (
	EventMeetingStart            = "application/vnd.microsoft.meetingStart"
	EventMeetingEnd              = "application/vnd.microsoft.meetingEnd"
	EventMeetingParticipantJoin  = "application/vnd.microsoft.meetingParticipantJoin"
	EventMeetingParticipantLeave = "application/vnd.microsoft.meetingParticipantLeave"
)

// ChannelAccount is a user or bot.
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// MessageReaction is one entry of reactionsAdded/reactionsRemoved.
type MessageReaction struct {
	Type string `json:"type"`
}

// Activity is an inbound Bot Framework activity. Fields whose shape varies
// between Teams clients are left raw and read through Doc.
type Activity struct {
	Type             string              `json:"type"`
	ID               string              `json:"id,omitempty"`
	Name             string              `json:"name,omitempty"`
	Text             string              `json:"text,omitempty"`
	Action           string              `json:"action,omitempty"`
	ServiceURL       string              `json:"serviceUrl,omitempty"`
	ChannelID        string              `json:"channelId,omitempty"`
	Timestamp        string              `json:"timestamp,omitempty"`
	ReplyToID        string              `json:"replyToId,omitempty"`
	From             ChannelAccount      `json:"from"`
	Recipient        ChannelAccount      `json:"recipient"`
	Conversation     ConversationAccount `json:"conversation"`
	MembersAdded     []ChannelAccount    `json:"membersAdded,omitempty"`
	MembersRemoved   []ChannelAccount    `json:"membersRemoved,omitempty"`
	ReactionsAdded   []MessageReaction   `json:"reactionsAdded,omitempty"`
	ReactionsRemoved []MessageReaction   `json:"reactionsRemoved,omitempty"`
	ChannelData      json.RawMessage     `json:"channelData,omitempty"`
	Value            json.RawMessage     `json:"value,omitempty"`

	// Doc is the generic decoding of the whole activity.
	Doc any `json:"-"`
}

// ParseActivity decodes an activity body.
func ParseActivity(raw []byte) (*Activity, error) {
	doc, err := payload.Decode(raw)
	if err != nil {
		return nil, err
	}

	var activity Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, fmt.Errorf("invalid activity: %w", err)
	}
	activity.Doc = doc
	return &activity, nil
}

// Field returns the first non-empty string among candidate JSON Pointer paths.
func (a *Activity) Field(paths ...string) string {
	return payload.String(a.Doc, paths...)
}

// MeetingID returns the Teams meeting id from the event value or channel data.
func (a *Activity) MeetingID() string {
	return a.Field("/value/Id", "/value/id", "/channelData/meeting/id")
}

// JoinURL returns the join link carried by meeting events.
func (a *Activity) JoinURL() string {
	return a.Field("/value/JoinUrl", "/value/joinUrl", "/value/joinWebUrl")
}

// Title returns the meeting title carried by meeting events.
func (a *Activity) Title() string {
	return a.Field("/value/Title", "/value/title")
}

// TenantID returns the tenant from channel data or the conversation.
func (a *Activity) TenantID() string {
	return a.Field("/channelData/tenant/id", "/conversation/tenantId")
}

// ParticipantNames lists the display names in a participant event.
func (a *Activity) ParticipantNames() []string {
	names := payload.Strings(a.Doc, "/value/members/*/user/name")
	if len(names) == 0 {
		names = payload.Strings(a.Doc, "/value/Members/*/User/Name")
	}
	return names
}

// Names returns display names, falling back to ids.
func Names(accounts []ChannelAccount) []string {
	names := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Name != "" {
			names = append(names, acc.Name)
		} else {
			names = append(names, acc.ID)
		}
	}
	return names
}

// BotAccountID is the Teams account id of the bot with the given app id.
func BotAccountID(appID string) string {
	return "28:" + appID
}
