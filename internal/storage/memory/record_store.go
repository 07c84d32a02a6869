package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
)

type recordKey struct {
	lat     float64
	lon     float64
	heading int
}

// RecordStore keeps imagery records in insertion order, keyed for exact-match lookups.
type RecordStore struct {
	mu      sync.RWMutex
	index   map[recordKey]struct{}
	records []ingest.ImageryRecord
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{index: make(map[recordKey]struct{})}
}

// Exists reports whether a record with exactly (lat, lon, heading) is present.
func (s *RecordStore) Exists(_ context.Context, lat, lon float64, heading int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[recordKey{lat: lat, lon: lon, heading: heading}]
	return ok, nil
}

// Insert appends record. A second record for the same (lat, lon, heading) is rejected.
func (s *RecordStore) Insert(_ context.Context, record ingest.ImageryRecord) error {
	key := recordKey{lat: record.Lat, lon: record.Lon, heading: record.Heading}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[key]; exists {
		return errors.New("record already exists")
	}
	s.index[key] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of every stored record.
func (s *RecordStore) Records() []ingest.ImageryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.ImageryRecord, len(s.records))
	copy(out, s.records)
	return out
}
