// Package notify announces stored transcripts to downstream consumers over SQS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// EventTranscriptStored is the event type sent after a transcript lands in S3.
const EventTranscriptStored = "TranscriptStored"

// Event is a system event sent to the transcript queue
type Event struct {
	EventType  string         `json:"eventType"`
	OccurredAt string         `json:"occurredAt"`
	MeetingID  string         `json:"meetingId"`
	Data       map[string]any `json:"data,omitempty"`
}

// SQSClient is the interface for SQS operations
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends events to one queue. A Publisher with no queue drops events.
type Publisher struct {
	client   SQSClient
	queueURL string
	now      func() time.Time
}

// NewPublisher creates a Publisher. queue may be a queue URL or a queue ARN.
func NewPublisher(client SQSClient, queue string) *Publisher {
	queueURL := queue
	if strings.HasPrefix(queue, "arn:") {
		queueURL = arnToQueueURL(queue)
	}
	return &Publisher{client: client, queueURL: queueURL, now: time.Now}
}

// TranscriptStored publishes an EventTranscriptStored event.
func (p *Publisher) TranscriptStored(ctx context.Context, meetingID, transcriptID, bucket, key string) error {
	return p.Publish(ctx, Event{
		EventType: EventTranscriptStored,
		MeetingID: meetingID,
		Data: map[string]any{
			"transcriptId": transcriptID,
			"bucket":       bucket,
			"key":          key,
		},
	})
}

// Publish sends event, filling OccurredAt when empty.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.queueURL == "" {
		return nil
	}
	if event.OccurredAt == "" {
		event.OccurredAt = p.now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(event.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}
	return nil
}

func arnToQueueURL(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 {
		return ""
	}
	region := parts[3]
	account := parts[4]
	queueName := parts[5]
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", region, account, queueName)
}
