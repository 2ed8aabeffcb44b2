// Package storage persists uploaded files in S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/orderdesk/orderdesk/internal/platform/httpx"
)

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Store wraps the S3 client for one bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the client. A non-empty endpoint switches to
// path-style addressing for MinIO-style deployments.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads one object.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: object storage put %s: %v", httpx.ErrUpstream, key, err)
	}
	return nil
}

// Get streams one object back. The caller must close the reader.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: object storage get %s: %v", httpx.ErrUpstream, key, err)
	}
	return out.Body, nil
}

// InvoiceKey builds the object key for a supplier invoice file. The filename
// is sanitised to its base name and prefixed with a timestamp so repeated
// uploads never collide.
func InvoiceKey(companyID, orderID int64, filename string, now time.Time) string {
	return fmt.Sprintf("companies/%d/orders/%d/invoices/%d-%s",
		companyID, orderID, now.UnixNano(), path.Base(filename))
}

// LogoKey builds the object key for a company logo.
func LogoKey(companyID int64, filename string) string {
	return fmt.Sprintf("companies/%d/logo/%s", companyID, path.Base(filename))
}
