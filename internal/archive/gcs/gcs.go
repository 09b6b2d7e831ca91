// Package gcs implements domain.Archiver over Google Cloud Storage: an
// *storage.Client scoped to one bucket, writing objects through the
// SDK's streaming Writer and returning a gs:// URI.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// Archiver uploads archived payloads as objects in a single GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
}

// New creates an Archiver bound to bucket.
func New(client *storage.Client, bucket string) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("gcs archiver: client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("gcs archiver: bucket is required")
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Archive implements domain.Archiver: data is written to key under the
// configured bucket and its gs:// URI is returned.
func (a *Archiver) Archive(ctx context.Context, key string, data []byte) (string, error) {
	obj := a.client.Bucket(a.bucket).Object(key)
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs archiver: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs archiver: close %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, key), nil
}
