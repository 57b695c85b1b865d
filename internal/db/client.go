// Package db persists meeting sessions and Event Hub checkpoints in DynamoDB.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DynamoDBClient defines the interface for DynamoDB operations
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Derived session keys. All records share the meeting_id hash key.
const (
	ConversationKeyPrefix      = "conv:"
	AutoInstallKeyPrefix       = "autoinstall:"
	SubscriptionTranscriptsKey = "subscription:transcripts"
)

// ConversationKey is the alias record for a Teams conversation.
func ConversationKey(conversationID string) string {
	return ConversationKeyPrefix + conversationID
}

// AutoInstallKey is the auto-install marker for a meeting join URL.
func AutoInstallKey(joinURL string) string {
	return AutoInstallKeyPrefix + joinURL
}

// Session status values
const (
	StatusActive          = "active"
	StatusEnded           = "ended"
	StatusBotInstalled    = "bot_installed"
	StatusBotRemoved      = "bot_removed"
	StatusUninstalled     = "uninstalled"
	StatusTranscriptSaved = "transcript_saved"
	StatusInstalled       = "installed"
	StatusSubscribed      = "subscribed"
)

// Session is a flat record in the meetings table.
type Session struct {
	MeetingID           string `dynamodbav:"meeting_id" json:"meeting_id"`
	Status              string `dynamodbav:"status,omitempty" json:"status,omitempty"`
	EventType           string `dynamodbav:"event_type,omitempty" json:"event_type,omitempty"`
	JoinURL             string `dynamodbav:"join_url,omitempty" json:"join_url,omitempty"`
	OrganizerID         string `dynamodbav:"organizer_id,omitempty" json:"organizer_id,omitempty"`
	ServiceURL          string `dynamodbav:"service_url,omitempty" json:"service_url,omitempty"`
	ConversationID      string `dynamodbav:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Title               string `dynamodbav:"title,omitempty" json:"title,omitempty"`
	RecordingConfigured *bool  `dynamodbav:"recording_configured,omitempty" json:"recording_configured,omitempty"`
	TranscriptKey       string `dynamodbav:"transcript_key,omitempty" json:"transcript_key,omitempty"`
	TranscriptID        string `dynamodbav:"transcript_id,omitempty" json:"transcript_id,omitempty"`
	SubscriptionID      string `dynamodbav:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	ExpiresAt           string `dynamodbav:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt           string `dynamodbav:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt           string `dynamodbav:"updated_at,omitempty" json:"updated_at,omitempty"`
}

type field struct {
	name  string
	value any
}

// fields lists the attributes a Save should overwrite.
func (s Session) fields() []field {
	var out []field
	add := func(name, value string) {
		if value != "" {
			out = append(out, field{name, value})
		}
	}
	add("status", s.Status)
	add("event_type", s.EventType)
	add("join_url", s.JoinURL)
	add("organizer_id", s.OrganizerID)
	add("service_url", s.ServiceURL)
	add("conversation_id", s.ConversationID)
	add("title", s.Title)
	if s.RecordingConfigured != nil {
		out = append(out, field{"recording_configured", *s.RecordingConfigured})
	}
	add("transcript_key", s.TranscriptKey)
	add("transcript_id", s.TranscriptID)
	add("subscription_id", s.SubscriptionID)
	add("expires_at", s.ExpiresAt)
	return out
}

// SessionStore reads and writes session records.
type SessionStore struct {
	ddb       DynamoDBClient
	tableName string
	now       func() time.Time
}

// NewSessionStore creates a SessionStore for tableName.
func NewSessionStore(ddb DynamoDBClient, tableName string) *SessionStore {
	return &SessionStore{ddb: ddb, tableName: tableName, now: time.Now}
}

func sessionKey(meetingID string) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(map[string]string{"meeting_id": meetingID})
}

// Get loads a session by key. Returns ErrNotFound when absent.
func (s *SessionStore) Get(ctx context.Context, meetingID string) (*Session, error) {
	key, err := sessionKey(meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	output, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(output.Item) == 0 {
		return nil, ErrNotFound
	}

	var session Session
	if err := attributevalue.UnmarshalMap(output.Item, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Save merges the non-empty fields of session into the stored record.
// created_at is set only on creation; updated_at is always refreshed.
func (s *SessionStore) Save(ctx context.Context, session Session) (*Session, error) {
	if session.MeetingID == "" {
		return nil, fmt.Errorf("meeting_id is required")
	}
	now := s.now().UTC().Format(time.RFC3339)

	key, err := sessionKey(session.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	update := expression.Set(
		expression.Name("created_at"),
		expression.IfNotExists(expression.Name("created_at"), expression.Value(now)),
	).Set(
		expression.Name("updated_at"),
		expression.Value(now),
	)
	for _, f := range session.fields() {
		update = update.Set(expression.Name(f.name), expression.Value(f.value))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	output, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	saved := session
	if len(output.Attributes) > 0 {
		if err := attributevalue.UnmarshalMap(output.Attributes, &saved); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
	}
	return &saved, nil
}

// SetStatus updates only the status of a session.
func (s *SessionStore) SetStatus(ctx context.Context, meetingID, status string) error {
	_, err := s.Save(ctx, Session{MeetingID: meetingID, Status: status})
	return err
}
