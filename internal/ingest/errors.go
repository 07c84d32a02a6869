package ingest

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes surfaced by the pipeline. Callers match them with errors.Is.
var (
	// ErrUpstreamUnavailable means the geometry source could not be read; fatal for a run.
	ErrUpstreamUnavailable = errors.New("geometry upstream unavailable")
	// ErrStorageQueryFailed means the idempotency lookup failed; the heading is abandoned.
	ErrStorageQueryFailed = errors.New("storage query failed")
	// ErrMetadataWriteFailed means the record insert failed after the blob upload.
	ErrMetadataWriteFailed = errors.New("metadata write failed")
	// ErrBlobWriteFailed means the image upload failed; no record was written.
	ErrBlobWriteFailed = errors.New("blob write failed")
	// ErrImageryFetchFailed means the imagery request failed after all attempts.
	ErrImageryFetchFailed = errors.New("imagery fetch failed")
)

// StatusError reports a non-success HTTP status from the imagery source.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("imagery source returned HTTP %d", e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
