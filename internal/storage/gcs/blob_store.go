// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// DefaultPublicBaseURL serves objects from publicly readable buckets.
const DefaultPublicBaseURL = "https://storage.googleapis.com"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL overrides the host used to build object URLs (e.g. a CDN in front of the bucket).
	PublicBaseURL string
}

// BlobStore writes imagery to a configured GCS bucket.
type BlobStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = DefaultPublicBaseURL + "/" + cfg.Bucket
	}
	return &BlobStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: base,
	}, nil
}

// PutObject uploads data to the configured bucket and returns its public URL.
// Existing objects under the same path are overwritten.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.PublicURL(path), nil
}

// PublicURL returns the URL an object at path is served from.
func (s *BlobStore) PublicURL(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}
