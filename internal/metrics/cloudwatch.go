// Package metrics publishes operational counters to CloudWatch.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names
const (
	EventHubEventsReceived               = "EventHubEventsReceived"
	AutoInstallInstalled                 = "AutoInstallInstalled"
	AutoInstallErrors                    = "AutoInstallErrors"
	TranscriptsStored                    = "TranscriptsStored"
	TranscriptSubscriptionHoursRemaining = "TranscriptSubscriptionHoursRemaining"
)

// CloudWatchClient defines the interface for CloudWatch operations
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher implements metric publishing using CloudWatch.
// With an empty namespace every call is a no-op.
type Publisher struct {
	client    CloudWatchClient
	namespace string
	now       func() time.Time
}

// NewPublisher creates a new Publisher
func NewPublisher(client CloudWatchClient, namespace string) *Publisher {
	return &Publisher{
		client:    client,
		namespace: namespace,
		now:       time.Now,
	}
}

// Enabled reports whether metrics will be sent.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil && p.namespace != ""
}

// PublishMetric publishes a count metric
func (p *Publisher) PublishMetric(ctx context.Context, name string, value float64) error {
	return p.publish(ctx, name, value, types.StandardUnitCount)
}

// PublishHours publishes a duration metric in hours.
func (p *Publisher) PublishHours(ctx context.Context, name string, d time.Duration) error {
	return p.publish(ctx, name, d.Hours(), types.StandardUnitNone)
}

func (p *Publisher) publish(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	if !p.Enabled() {
		return nil
	}
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(p.now()),
			},
		},
	})
	return err
}
