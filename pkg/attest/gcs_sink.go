//go:build gcp

package attest

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

func init() {
	openGCS = func(ctx context.Context, bucket, prefix string) (Sink, error) {
		return NewGCSSink(ctx, bucket, prefix)
	}
}

// GCSSink writes attestations to a Cloud Storage bucket using ADC.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	path := s.prefix + name
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
