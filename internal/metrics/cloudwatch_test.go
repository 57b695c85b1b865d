package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/require"
)

type mockCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatchClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublishMetric(t *testing.T) {
	client := &mockCloudWatchClient{}
	p := NewPublisher(client, "TeamsMeetingFetcher")

	require.NoError(t, p.PublishMetric(context.Background(), EventHubEventsReceived, 3))
	require.Len(t, client.inputs, 1)
	require.Equal(t, "TeamsMeetingFetcher", aws.ToString(client.inputs[0].Namespace))

	datum := client.inputs[0].MetricData[0]
	require.Equal(t, EventHubEventsReceived, aws.ToString(datum.MetricName))
	require.Equal(t, 3.0, aws.ToFloat64(datum.Value))
	require.Equal(t, types.StandardUnitCount, datum.Unit)
}

func TestPublishHours(t *testing.T) {
	client := &mockCloudWatchClient{}
	p := NewPublisher(client, "ns")

	require.NoError(t, p.PublishHours(context.Background(), TranscriptSubscriptionHoursRemaining, 90*time.Minute))
	require.Equal(t, 1.5, aws.ToFloat64(client.inputs[0].MetricData[0].Value))
}

func TestPublish_DisabledWithoutNamespace(t *testing.T) {
	client := &mockCloudWatchClient{}
	p := NewPublisher(client, "")

	require.False(t, p.Enabled())
	require.NoError(t, p.PublishMetric(context.Background(), AutoInstallErrors, 1))
	require.Empty(t, client.inputs)

	var nilPublisher *Publisher
	require.NoError(t, nilPublisher.PublishMetric(context.Background(), AutoInstallErrors, 1))
}
