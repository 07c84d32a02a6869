package ingest

// OutcomeKind tags the terminal state of one (point, heading) attempt.
type OutcomeKind int

// Outcome kinds returned per heading.
const (
	OutcomeStored OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStored:
		return "stored"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SkipReason explains why a heading was legitimately not stored.
type SkipReason string

// Skip reasons.
const (
	ReasonAlreadyIngested SkipReason = "already_ingested"
	ReasonNoCoverage      SkipReason = "no_coverage"
)

// Outcome is the tagged result of one heading: Stored(record), Skipped(reason) or Failed(err).
type Outcome struct {
	Point     Point
	Direction Direction
	Kind      OutcomeKind
	Record    *ImageryRecord
	Reason    SkipReason
	Err       error
}

// Stored builds a successful outcome.
func Stored(p Point, d Direction, record ImageryRecord) Outcome {
	return Outcome{Point: p, Direction: d, Kind: OutcomeStored, Record: &record}
}

// Skipped builds a skip outcome.
func Skipped(p Point, d Direction, reason SkipReason) Outcome {
	return Outcome{Point: p, Direction: d, Kind: OutcomeSkipped, Reason: reason}
}

// Failed builds a failure outcome.
func Failed(p Point, d Direction, err error) Outcome {
	return Outcome{Point: p, Direction: d, Kind: OutcomeFailed, Err: err}
}
