// Package scheduler drives the per-point acquisition loop: shuffle once, then
// process points one at a time with a fixed pause between them.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
	"github.com/JakeFAU/streetview-ingestor/internal/metrics"
)

// DefaultDelay is the pause between consecutive points.
const DefaultDelay = 100 * time.Millisecond

// Processor attempts every direction of a job.
type Processor interface {
	Process(ctx context.Context, job ingest.Job) []ingest.Outcome
}

// Config controls Scheduler behavior.
type Config struct {
	// Delay is the pause after each point except the last. Negative values disable it.
	Delay time.Duration
	// Seed fixes the shuffle order when non-zero.
	Seed uint64
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	Points    int
	Processed int
	Stored    int
	Skipped   int
	Failed    int
	Panicked  int
	Canceled  bool
}

// Scheduler consumes a point set and feeds each point through a Processor.
type Scheduler struct {
	processor Processor
	delay     time.Duration
	rng       *rand.Rand
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

// New constructs a Scheduler.
func New(processor Processor, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := cfg.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	if delay < 0 {
		delay = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Scheduler{
		processor: processor,
		delay:     delay,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Shuffle returns a uniformly random permutation of points. The input is not modified.
func Shuffle(rng *rand.Rand, points []ingest.Point) []ingest.Point {
	out := make([]ingest.Point, len(points))
	copy(out, points)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Run shuffles points and processes each in turn. Cancellation stops the run
// between points; the summary covers the points completed so far.
func (s *Scheduler) Run(ctx context.Context, points []ingest.Point) Summary {
	order := Shuffle(s.rng, points)
	summary := Summary{Points: len(order)}
	metrics.SetSampledPoints(len(order))
	s.logger.Info("scheduler started", zap.Int("points", len(order)), zap.Duration("delay", s.delay))

	for i, p := range order {
		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}
		s.runPoint(ctx, p, &summary)
		summary.Processed++

		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}
		if i == len(order)-1 {
			break
		}
		if err := s.sleep(ctx, s.delay); err != nil {
			summary.Canceled = true
			break
		}
	}

	s.logger.Info("scheduler finished",
		zap.Int("points", summary.Points),
		zap.Int("processed", summary.Processed),
		zap.Int("stored", summary.Stored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("canceled", summary.Canceled),
	)
	return summary
}

func (s *Scheduler) runPoint(ctx context.Context, p ingest.Point, summary *Summary) {
	metrics.ObservePoint()
	defer func() {
		if rec := recover(); rec != nil {
			summary.Panicked++
			s.logger.Error("point processing panicked",
				zap.Float64("lat", p.Lat),
				zap.Float64("lon", p.Lon),
				zap.Any("panic", rec),
			)
		}
	}()

	for _, o := range s.processor.Process(ctx, ingest.NewJob(p)) {
		metrics.ObserveOutcome(o.Kind.String())
		switch o.Kind {
		case ingest.OutcomeStored:
			summary.Stored++
		case ingest.OutcomeSkipped:
			summary.Skipped++
		case ingest.OutcomeFailed:
			summary.Failed++
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("scheduler delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
