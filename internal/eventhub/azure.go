package eventhub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
)

// AzureConfig identifies the hub and the service principal used to read it.
type AzureConfig struct {
	Namespace     string
	EventHubName  string
	ConsumerGroup string
	TenantID      string
	ClientID      string
	ClientSecret  string
}

// AzureConsumer implements Consumer using the Event Hubs AMQP client.
type AzureConsumer struct {
	client *azeventhubs.ConsumerClient
}

// NewAzureConsumer authenticates with client credentials and opens a consumer client.
func NewAzureConsumer(cfg AzureConfig) (*AzureConsumer, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = DefaultConsumerGroup
	}

	client, err := azeventhubs.NewConsumerClient(FullyQualifiedNamespace(cfg.Namespace), cfg.EventHubName, group, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Event Hubs consumer: %w", err)
	}
	return &AzureConsumer{client: client}, nil
}

// FullyQualifiedNamespace appends the public Service Bus suffix to a bare namespace name.
func FullyQualifiedNamespace(namespace string) string {
	namespace = strings.TrimPrefix(namespace, "sb://")
	namespace = strings.TrimSuffix(namespace, "/")
	if strings.Contains(namespace, ".") {
		return namespace
	}
	return namespace + ".servicebus.windows.net"
}

// PartitionIDs lists the hub's partitions.
func (c *AzureConsumer) PartitionIDs(ctx context.Context) ([]string, error) {
	props, err := c.client.GetEventHubProperties(ctx, nil)
	if err != nil {
		return nil, err
	}
	return props.PartitionIDs, nil
}

// Receive reads up to maxEvents, returning whatever arrived when wait elapses.
func (c *AzureConsumer) Receive(ctx context.Context, partitionID string, start StartPosition, maxEvents int, wait time.Duration) ([]ReceivedEvent, error) {
	pc, err := c.client.NewPartitionClient(partitionID, &azeventhubs.PartitionClientOptions{
		StartPosition: toAzureStartPosition(start),
	})
	if err != nil {
		return nil, err
	}
	defer pc.Close(context.WithoutCancel(ctx))

	receiveCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	events, err := pc.ReceiveEvents(receiveCtx, maxEvents, nil)
	if err != nil && !(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return nil, err
	}

	out := make([]ReceivedEvent, 0, len(events))
	for _, e := range events {
		out = append(out, ReceivedEvent{
			SequenceNumber:   e.SequenceNumber,
			EnqueuedTime:     e.EnqueuedTime,
			Body:             e.Body,
			Properties:       e.Properties,
			SystemProperties: e.SystemProperties,
		})
	}
	return out, nil
}

// Close releases the AMQP connection.
func (c *AzureConsumer) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

func toAzureStartPosition(start StartPosition) azeventhubs.StartPosition {
	switch {
	case start.AfterSequence != nil:
		return azeventhubs.StartPosition{SequenceNumber: start.AfterSequence, Inclusive: false}
	case start.EnqueuedAfter != nil:
		return azeventhubs.StartPosition{EnqueuedTime: start.EnqueuedAfter}
	default:
		earliest := true
		return azeventhubs.StartPosition{Earliest: &earliest}
	}
}
