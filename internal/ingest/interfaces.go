package ingest

import (
	"context"
	"time"
)

// RecordStore is the durable metadata store and the sole source of truth for "already ingested".
type RecordStore interface {
	Exists(ctx context.Context, lat, lon float64, heading int) (bool, error)
	Insert(ctx context.Context, record ImageryRecord) error
}

// BlobStore writes image bytes and returns a publicly resolvable URL.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ImageryClient requests a single directional image.
type ImageryClient interface {
	Fetch(ctx context.Context, request ImageryRequest) (ImageryResponse, error)
}

// Publisher pushes stored-record events to Pub/Sub, NATS or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when a failed imagery fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
