package ingest

import (
	"context"
	"fmt"
	"mime"
	"time"

	"go.uber.org/zap"
)

// FetcherConfig controls the imagery request parameters shared by every heading.
type FetcherConfig struct {
	FOV  int
	Size string
}

// DirectionalFetcher attempts every direction of a Job, one heading at a time:
// idempotency check, imagery request, then storage.
type DirectionalFetcher struct {
	guard  *Guard
	client ImageryClient
	writer *StorageWriter
	retry  RetryPolicy
	cfg    FetcherConfig
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewDirectionalFetcher constructs a DirectionalFetcher. A nil retry policy disables retries.
func NewDirectionalFetcher(
	guard *Guard,
	client ImageryClient,
	writer *StorageWriter,
	retry RetryPolicy,
	cfg FetcherConfig,
	logger *zap.Logger,
) *DirectionalFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NoRetry{}
	}
	if cfg.FOV <= 0 {
		cfg.FOV = 90
	}
	if cfg.Size == "" {
		cfg.Size = "2000x300"
	}
	return &DirectionalFetcher{
		guard:  guard,
		client: client,
		writer: writer,
		retry:  retry,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Process attempts each direction of job and returns one Outcome per direction.
// A failure on one heading never prevents the remaining headings from being attempted.
func (f *DirectionalFetcher) Process(ctx context.Context, job Job) []Outcome {
	outcomes := make([]Outcome, 0, len(job.Directions))
	for _, dir := range job.Directions {
		outcome := f.processDirection(ctx, job.Point, dir)
		f.logOutcome(outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (f *DirectionalFetcher) processDirection(ctx context.Context, p Point, dir Direction) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Error("heading processing panicked",
				zap.Float64("lat", p.Lat),
				zap.Float64("lon", p.Lon),
				zap.Int("heading", dir.Heading),
				zap.Any("panic", rec),
			)
			out = Failed(p, dir, fmt.Errorf("panic: %v", rec))
		}
	}()

	seen, err := f.guard.Seen(ctx, p, dir.Heading)
	if err != nil {
		return Failed(p, dir, err)
	}
	if seen {
		return Skipped(p, dir, ReasonAlreadyIngested)
	}

	resp, err := f.fetch(ctx, p, dir)
	if err != nil {
		return Failed(p, dir, fmt.Errorf("%w: %w", ErrImageryFetchFailed, err))
	}
	if !IsJPEG(resp.ContentType) {
		return Skipped(p, dir, ReasonNoCoverage)
	}

	record, err := f.writer.Write(ctx, p, dir, f.cfg.FOV, resp.ContentType, resp.Body)
	if err != nil {
		return Failed(p, dir, err)
	}
	return Stored(p, dir, record)
}

func (f *DirectionalFetcher) fetch(ctx context.Context, p Point, dir Direction) (ImageryResponse, error) {
	req := ImageryRequest{
		Point:     p,
		Direction: dir,
		FOV:       f.cfg.FOV,
		Size:      f.cfg.Size,
	}
	attempt := 0
	for {
		resp, err := f.client.Fetch(ctx, req)
		if err == nil && resp.StatusCode >= 400 {
			err = &StatusError{StatusCode: resp.StatusCode}
		}
		if err == nil {
			return resp, nil
		}
		attempt++
		if !f.retry.ShouldRetry(err, attempt) {
			return ImageryResponse{}, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying imagery fetch",
			zap.Float64("lat", p.Lat),
			zap.Float64("lon", p.Lon),
			zap.Int("heading", dir.Heading),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := f.sleep(ctx, wait); serr != nil {
			return ImageryResponse{}, serr
		}
	}
}

func (f *DirectionalFetcher) logOutcome(o Outcome) {
	fields := []zap.Field{
		zap.Float64("lat", o.Point.Lat),
		zap.Float64("lon", o.Point.Lon),
		zap.Int("heading", o.Direction.Heading),
	}
	switch o.Kind {
	case OutcomeStored:
		f.logger.Info("imagery stored", append(fields, zap.String("image_url", o.Record.ImageURL))...)
	case OutcomeSkipped:
		f.logger.Info("heading skipped", append(fields, zap.String("reason", string(o.Reason)))...)
	case OutcomeFailed:
		f.logger.Warn("heading failed", append(fields, zap.Error(o.Err))...)
	}
}

// IsJPEG reports whether a declared content type is JPEG imagery. Blob keys
// carry a .jpg extension, so other image formats count as no coverage.
func IsJPEG(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "image/jpeg"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
