// Package eventhub drains Azure Event Hubs partitions in small batches,
// resuming each partition from a DynamoDB checkpoint.
package eventhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/jarrod-lowe/teams-meeting-fetcher/internal/db"
)

// DefaultConsumerGroup is used when no group is configured.
const DefaultConsumerGroup = "$Default"

// StartPosition selects where a partition read begins. Exactly one field is set.
type StartPosition struct {
	// AfterSequence starts after the given sequence number.
	AfterSequence *int64
	// EnqueuedAfter starts at events enqueued after the given time.
	EnqueuedAfter *time.Time
	Earliest      bool
}

// ReceivedEvent is an event as read from a partition.
type ReceivedEvent struct {
	SequenceNumber   int64
	EnqueuedTime     *time.Time
	Body             []byte
	Properties       map[string]any
	SystemProperties map[string]any
}

// Consumer reads from an Event Hub.
type Consumer interface {
	PartitionIDs(ctx context.Context) ([]string, error)
	Receive(ctx context.Context, partitionID string, start StartPosition, maxEvents int, wait time.Duration) ([]ReceivedEvent, error)
	Close(ctx context.Context) error
}

// CheckpointStore persists per-partition progress.
type CheckpointStore interface {
	Get(ctx context.Context, partitionID, consumerGroup string) (*db.Checkpoint, error)
	Put(ctx context.Context, cp db.Checkpoint) error
}

// Event is the staged form of one received event.
type Event struct {
	PartitionID      string         `json:"partitionId"`
	SequenceNumber   int64          `json:"sequenceNumber"`
	EnqueuedTimeUTC  *time.Time     `json:"enqueuedTimeUtc"`
	Body             any            `json:"body"`
	Properties       map[string]any `json:"properties"`
	SystemProperties map[string]any `json:"systemProperties"`
}

// Config controls one poll.
type Config struct {
	ConsumerGroup string
	MaxEvents     int
	PollWindow    time.Duration
	Wait          time.Duration
}

// Poller reads one batch from every partition.
type Poller struct {
	consumer    Consumer
	checkpoints CheckpointStore
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewPoller creates a Poller. checkpoints may be nil to disable checkpointing.
func NewPoller(consumer Consumer, checkpoints CheckpointStore, cfg Config, logger *slog.Logger) *Poller {
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = DefaultConsumerGroup
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 50
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		consumer:    consumer,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Poll reads every partition concurrently and returns the events in
// partition order, then sequence order.
func (p *Poller) Poll(ctx context.Context) ([]Event, error) {
	partitionIDs, err := p.consumer.PartitionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	results := make([][]Event, len(partitionIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, partitionID := range partitionIDs {
		g.Go(func() error {
			events, err := p.pollPartition(gctx, partitionID)
			if err != nil {
				return fmt.Errorf("partition %s: %w", partitionID, err)
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Event
	for _, events := range results {
		all = append(all, events...)
	}
	return all, nil
}

func (p *Poller) pollPartition(ctx context.Context, partitionID string) ([]Event, error) {
	start, err := p.startPosition(ctx, partitionID)
	if err != nil {
		return nil, err
	}

	received, err := p.consumer.Receive(ctx, partitionID, start, p.cfg.MaxEvents, p.cfg.Wait)
	if err != nil {
		return nil, fmt.Errorf("failed to receive: %w", err)
	}
	if len(received) == 0 {
		return nil, nil
	}

	sort.SliceStable(received, func(i, j int) bool {
		return received[i].SequenceNumber < received[j].SequenceNumber
	})

	last := received[len(received)-1]
	if p.checkpoints != nil {
		if err := p.checkpoints.Put(ctx, db.Checkpoint{
			PartitionID:     partitionID,
			ConsumerGroup:   p.cfg.ConsumerGroup,
			SequenceNumber:  last.SequenceNumber,
			EnqueuedTimeUTC: last.EnqueuedTime,
		}); err != nil {
			return nil, fmt.Errorf("failed to write checkpoint: %w", err)
		}
	}

	p.logger.InfoContext(ctx, "Received partition events",
		slog.String("partition_id", partitionID),
		slog.Int("count", len(received)),
		slog.Int64("last_sequence_number", last.SequenceNumber),
	)

	events := make([]Event, 0, len(received))
	for _, r := range received {
		events = append(events, Event{
			PartitionID:      partitionID,
			SequenceNumber:   r.SequenceNumber,
			EnqueuedTimeUTC:  r.EnqueuedTime,
			Body:             decodeBody(r.Body),
			Properties:       orEmpty(r.Properties),
			SystemProperties: orEmpty(r.SystemProperties),
		})
	}
	return events, nil
}

func (p *Poller) startPosition(ctx context.Context, partitionID string) (StartPosition, error) {
	if p.checkpoints != nil {
		cp, err := p.checkpoints.Get(ctx, partitionID, p.cfg.ConsumerGroup)
		switch {
		case err == nil:
			seq := cp.SequenceNumber
			return StartPosition{AfterSequence: &seq}, nil
		case !errors.Is(err, db.ErrNotFound):
			return StartPosition{}, fmt.Errorf("failed to read checkpoint: %w", err)
		}
	}

	if p.cfg.PollWindow > 0 {
		since := p.now().Add(-p.cfg.PollWindow)
		return StartPosition{EnqueuedAfter: &since}, nil
	}
	return StartPosition{Earliest: true}, nil
}

// decodeBody returns JSON bodies as raw JSON and anything else as a string.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return ""
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	if utf8.Valid(body) {
		return string(body)
	}
	return body
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
