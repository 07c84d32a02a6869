package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WriterConfig controls StorageWriter behavior.
type WriterConfig struct {
	// BlobPrefix is prepended to every blob key ("" for the bucket root).
	BlobPrefix string
	// Topic receives an event per stored record when a Publisher is configured.
	Topic string
	// RunID is stamped on every record written by this process.
	RunID string
}

// StorageWriter persists image bytes to the blob store, then the metadata row.
// The two writes are not transactional; a blob without a row is overwritten on retry
// because its key is derived from the coordinates and heading only.
type StorageWriter struct {
	blobs     BlobStore
	records   RecordStore
	publisher Publisher
	clock     Clock
	cfg       WriterConfig
	logger    *zap.Logger
}

// NewStorageWriter constructs a StorageWriter. publisher may be nil.
func NewStorageWriter(
	blobs BlobStore,
	records RecordStore,
	publisher Publisher,
	clock Clock,
	cfg WriterConfig,
	logger *zap.Logger,
) *StorageWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorageWriter{
		blobs:     blobs,
		records:   records,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// BlobKey returns the deterministic object key for a point and heading.
func BlobKey(p Point, heading int) string {
	return "streetview_" + FormatCoord(p.Lat) + "_" + FormatCoord(p.Lon) + "_" + strconv.Itoa(heading) + ".jpg"
}

func (w *StorageWriter) blobPath(p Point, heading int) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return BlobKey(p, heading)
	}
	return prefix + "/" + BlobKey(p, heading)
}

// Write uploads data and inserts the ImageryRecord referencing it.
func (w *StorageWriter) Write(
	ctx context.Context,
	p Point,
	d Direction,
	fov int,
	contentType string,
	data []byte,
) (ImageryRecord, error) {
	path := w.blobPath(p, d.Heading)
	url, err := w.blobs.PutObject(ctx, path, contentType, data)
	if err != nil {
		return ImageryRecord{}, fmt.Errorf("%w: put %s: %w", ErrBlobWriteFailed, path, err)
	}

	record := ImageryRecord{
		Lat:      p.Lat,
		Lon:      p.Lon,
		Heading:  d.Heading,
		Pitch:    d.Pitch,
		FOV:      fov,
		ImageURL: url,
		RunID:    w.cfg.RunID,
	}
	if w.clock != nil {
		record.CreatedAt = w.clock.Now()
	}
	if err := w.records.Insert(ctx, record); err != nil {
		return ImageryRecord{}, fmt.Errorf("%w: %w", ErrMetadataWriteFailed, err)
	}

	w.publish(ctx, record)
	return record, nil
}

func (w *StorageWriter) publish(ctx context.Context, record ImageryRecord) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"event":     "imagery.stored",
		"latitude":  record.Lat,
		"longitude": record.Lon,
		"heading":   record.Heading,
		"pitch":     record.Pitch,
		"fov":       record.FOV,
		"image_url": record.ImageURL,
		"run_id":    record.RunID,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish stored record failed",
			zap.Float64("lat", record.Lat),
			zap.Float64("lon", record.Lon),
			zap.Int("heading", record.Heading),
			zap.Error(err),
		)
	}
}
