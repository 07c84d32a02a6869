package ingest

import (
	"context"
	"fmt"
)

// Guard answers whether a (point, heading) pair has already been ingested.
// It holds no state of its own; every call goes to the RecordStore.
type Guard struct {
	store RecordStore
}

// NewGuard constructs a Guard over store.
func NewGuard(store RecordStore) *Guard {
	return &Guard{store: store}
}

// Seen reports whether a record with exactly this latitude, longitude and heading exists.
func (g *Guard) Seen(ctx context.Context, p Point, heading int) (bool, error) {
	if g == nil || g.store == nil {
		return false, fmt.Errorf("%w: record store is not configured", ErrStorageQueryFailed)
	}
	found, err := g.store.Exists(ctx, p.Lat, p.Lon, heading)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorageQueryFailed, err)
	}
	return found, nil
}
