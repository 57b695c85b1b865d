package db

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Checkpoint is the last Event Hub position read for a partition.
type Checkpoint struct {
	PartitionID     string     `dynamodbav:"partition_id"`
	ConsumerGroup   string     `dynamodbav:"consumer_group"`
	SequenceNumber  int64      `dynamodbav:"sequence_number"`
	EnqueuedTimeUTC *time.Time `dynamodbav:"enqueued_time_utc"`
	UpdatedAt       string     `dynamodbav:"updated_at"`
}

// CheckpointStore persists per-partition checkpoints.
type CheckpointStore struct {
	ddb       DynamoDBClient
	tableName string
	now       func() time.Time
}

// NewCheckpointStore creates a CheckpointStore for tableName.
func NewCheckpointStore(ddb DynamoDBClient, tableName string) *CheckpointStore {
	return &CheckpointStore{ddb: ddb, tableName: tableName, now: time.Now}
}

// Get loads the checkpoint for a partition. Returns ErrNotFound when none exists.
func (s *CheckpointStore) Get(ctx context.Context, partitionID, consumerGroup string) (*Checkpoint, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"partition_id":   partitionID,
		"consumer_group": consumerGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	output, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if len(output.Item) == 0 {
		return nil, ErrNotFound
	}

	var cp Checkpoint
	if err := attributevalue.UnmarshalMap(output.Item, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Put writes a checkpoint, stamping updated_at.
func (s *CheckpointStore) Put(ctx context.Context, cp Checkpoint) error {
	cp.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	item, err := attributevalue.MarshalMap(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if _, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}
