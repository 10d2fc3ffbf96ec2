// Package objectstore stores generated export files in S3 compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes the MinIO connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store uploads objects into a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO. It returns a nil Store when no endpoint is configured.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("platform/objectstore: new client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("platform/objectstore: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("platform/objectstore: make bucket: %w", err)
	}
	return nil
}

// Put uploads body under objectName and returns the stored location.
func (s *Store) Put(ctx context.Context, objectName string, body io.Reader, size int64, contentType string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("platform/objectstore: store not configured")
	}
	info, err := s.client.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("platform/objectstore: put %s: %w", objectName, err)
	}
	return fmt.Sprintf("%s/%s", info.Bucket, info.Key), nil
}
