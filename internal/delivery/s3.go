package delivery

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/TheMichaelB/finsync/internal/events"
)

// S3PutAPI is the part of the S3 client used by S3Sink.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads artifacts to a bucket.
type S3Sink struct {
	client  S3PutAPI
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *events.Logger
}

// NewS3Sink creates a sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, prefix string, logger *events.Logger) (*S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3SinkWithClient(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// NewS3SinkWithClient creates a sink around an existing client.
func NewS3SinkWithClient(client S3PutAPI, bucket, prefix string, logger *events.Logger) *S3Sink {
	return &S3Sink{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		timeout: 30 * time.Second,
		logger:  logger.WithField("component", "s3_sink"),
	}
}

// Key returns the object key for filename.
func (s *S3Sink) Key(filename string) string {
	if s.prefix == "" {
		return filename
	}
	return path.Join(s.prefix, filename)
}

// Deliver uploads content as one object.
func (s *S3Sink) Deliver(ctx context.Context, filename, content, mimeType string) error {
	if err := validateFilename(filename); err != nil {
		return deliveryError(filename, err)
	}

	key := s.Key(filename)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               strings.NewReader(content),
		ContentType:        aws.String(mimeType),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filename)),
	})
	if err != nil {
		return deliveryError(filename, fmt.Errorf("s3 put object: %w", err))
	}

	s.logger.WithFields(map[string]interface{}{
		"bucket": s.bucket,
		"key":    key,
		"size":   len(content),
	}).Info("Export uploaded")

	return nil
}
