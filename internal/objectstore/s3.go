// Package objectstore stages webhook payloads, Event Hub batches and meeting
// transcripts in S3.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Content types written by Store.
const (
	ContentTypeJSON = "application/json"
	ContentTypeVTT  = "text/vtt"
)

// S3Client defines the interface for S3 writes
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3PresignClient defines the interface for S3 presign operations
type S3PresignClient interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store writes objects into one bucket.
type Store struct {
	client        S3Client
	presignClient S3PresignClient
	bucketName    string
}

// NewStore creates a Store. presignClient may be nil when links are not needed.
func NewStore(client S3Client, presignClient S3PresignClient, bucketName string) *Store {
	return &Store{
		client:        client,
		presignClient: presignClient,
		bucketName:    bucketName,
	}
}

// Bucket returns the target bucket name.
func (s *Store) Bucket() string {
	return s.bucketName
}

// PutJSON writes v as indented JSON.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, ContentTypeJSON, body)
}

// Put writes body under key with the given content type.
func (s *Store) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucketName, key, err)
	}
	return nil
}

// PresignGet returns a time-limited download link for key.
func (s *Store) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if s.presignClient == nil {
		return "", fmt.Errorf("presigning is not configured")
	}
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign GET request: %w", err)
	}
	return req.URL, nil
}

// WebhookKey is the object key for one Graph notification delivery.
func WebhookKey(at time.Time, id string) string {
	return fmt.Sprintf("webhooks/%s/graph-webhook-%s.json", at.UTC().Format("2006/01/02"), id)
}

// EventHubKey is the object key for one poll batch. Colons and dots in the
// timestamp are replaced so the key is shell friendly.
func EventHubKey(at time.Time, requestID string) string {
	if requestID == "" {
		requestID = "unknown"
	}
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(at.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("eventhub/%s-%s.json", ts, requestID)
}

// TranscriptKey is the object key for a downloaded transcript.
func TranscriptKey(at time.Time, meetingID, transcriptID string) string {
	clean := strings.NewReplacer("/", "_", "\\", "_")
	return fmt.Sprintf("transcripts/%s/%s-%s.vtt",
		at.UTC().Format("2006-01-02"), clean.Replace(meetingID), clean.Replace(transcriptID))
}
