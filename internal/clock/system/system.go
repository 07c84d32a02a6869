// Package system provides the wall clock used to stamp imagery records.
package system

import "time"

// Clock implements ingest.Clock using time.Now, truncated to the microsecond
// precision Postgres stores for timestamptz.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at microsecond precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
