// Package worker hands long-running transcript fetches to a separate Lambda.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// TranscriptJob is the payload of an asynchronous transcript fetch.
type TranscriptJob struct {
	MeetingID      string `json:"meetingId"`
	JoinURL        string `json:"joinUrl"`
	UserID         string `json:"userId"`
	ServiceURL     string `json:"serviceUrl,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// LambdaClient defines the interface for Lambda operations
type LambdaClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker queues jobs on a worker function with InvocationType Event.
type LambdaInvoker struct {
	client       LambdaClient
	functionName string
}

// NewLambdaInvoker creates a new Lambda invoker
func NewLambdaInvoker(client LambdaClient, functionName string) *LambdaInvoker {
	return &LambdaInvoker{client: client, functionName: functionName}
}

// Enqueue starts the worker without waiting for its result.
func (i *LambdaInvoker) Enqueue(ctx context.Context, job TranscriptJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	output, err := i.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(i.functionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("lambda invocation failed: %w", err)
	}
	if output.StatusCode != 202 {
		return fmt.Errorf("lambda invocation returned status %d", output.StatusCode)
	}
	return nil
}
