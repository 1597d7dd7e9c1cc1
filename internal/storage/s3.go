package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects where uploaded diff images go
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key.
	Prefix string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO. Path-style
	// addressing is always used.
	Endpoint string
}

type s3Storage struct {
	client *s3.Client
	config S3Config
}

// NewS3Storage creates an upload-only S3 backend
func NewS3Storage(ctx context.Context, cfg S3Config) (Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket not specified")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &s3Storage{
		client: client,
		config: cfg,
	}, nil
}

// objectKey joins the prefix and key with forward slashes. The result never
// starts with "/".
func (s *s3Storage) objectKey(key string) string {
	return strings.TrimPrefix(path.Join(s.config.Prefix, key), "/")
}

func (s *s3Storage) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := s.objectKey(key)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", objectKey, s.config.Bucket, err)
	}

	return "s3://" + s.config.Bucket + "/" + objectKey, nil
}
