// Package recording archives call transcripts to S3-compatible storage.
package recording

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// Config holds S3 archive configuration.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	Prefix    string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores call transcripts as text objects.
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	logger *logger.Logger
}

// NewS3Archive creates an archive writing to cfg.Bucket.
func NewS3Archive(cfg Config, log *logger.Logger) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("recording bucket cannot be empty")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := s3.Options{
		Region: cfg.Region,
		// Buckets with dots break virtual-host TLS names.
		UsePathStyle: cfg.PathStyle || strings.Contains(cfg.Bucket, "."),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	log.Info("recording archive configured",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
	)

	return newS3Archive(s3.New(opts), cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Archive(client objectPutter, bucket, prefix string, log *logger.Logger) *S3Archive {
	if prefix == "" {
		prefix = "calls"
	}
	return &S3Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: log}
}

// Key returns the object key for a call, partitioned by thread and day.
func (a *S3Archive) Key(call *model.VoiceCall) string {
	ts := call.Timestamp.UTC()
	return fmt.Sprintf("%s/%s/%s/%s.txt", a.prefix, call.ThreadID, ts.Format("2006/01/02"), call.ID)
}

// Store uploads the call transcript and returns its s3:// location.
func (a *S3Archive) Store(ctx context.Context, call *model.VoiceCall) (string, error) {
	key := a.Key(call)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(call.Transcript),
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata: map[string]string{
			"thread-id": call.ThreadID,
			"call-id":   call.ID,
			"duration":  strconv.Itoa(call.Duration),
		},
	})
	if err != nil {
		a.logger.Error("failed to upload call transcript",
			zap.String("call_id", call.ID),
			zap.String("bucket", a.bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Debug("call transcript archived", zap.String("call_id", call.ID), zap.String("key", key))
	return "s3://" + a.bucket + "/" + key, nil
}
