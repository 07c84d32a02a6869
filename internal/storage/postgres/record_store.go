package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
)

// DefaultRecordTable holds one row per stored image.
const DefaultRecordTable = "street_view_images"

// RecordStore implements ingest.RecordStore on a Postgres table.
type RecordStore struct {
	db    querier
	table string
	now   func() time.Time
}

// NewRecordStore constructs a RecordStore. An empty table selects DefaultRecordTable.
func NewRecordStore(db querier, table string) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRecordTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, table: table, now: time.Now}, nil
}

// EnsureSchema creates the record table and its lookup index when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	image_id BIGSERIAL PRIMARY KEY,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	heading INTEGER NOT NULL,
	pitch INTEGER NOT NULL DEFAULT 0,
	fov INTEGER NOT NULL,
	image_url TEXT NOT NULL,
	run_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_location_heading_idx ON %[1]s (latitude, longitude, heading);`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// Exists reports whether a row matches (lat, lon, heading) exactly.
func (s *RecordStore) Exists(ctx context.Context, lat, lon float64, heading int) (bool, error) {
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s WHERE latitude = $1 AND longitude = $2 AND heading = $3
)`, s.table)
	var exists bool
	if err := s.db.QueryRow(ctx, query, lat, lon, heading).Scan(&exists); err != nil {
		return false, fmt.Errorf("query %s: %w", s.table, err)
	}
	return exists, nil
}

// Insert writes one imagery row.
func (s *RecordStore) Insert(ctx context.Context, record ingest.ImageryRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	latitude,
	longitude,
	heading,
	pitch,
	fov,
	image_url,
	run_id,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		record.Lat,
		record.Lon,
		record.Heading,
		record.Pitch,
		record.FOV,
		record.ImageURL,
		record.RunID,
		createdAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}
