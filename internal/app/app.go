// Package app builds the long-lived services of an ingest run and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/streetview-ingestor/internal/api"
	valkeycache "github.com/JakeFAU/streetview-ingestor/internal/cache/valkey"
	"github.com/JakeFAU/streetview-ingestor/internal/clock/system"
	"github.com/JakeFAU/streetview-ingestor/internal/config"
	"github.com/JakeFAU/streetview-ingestor/internal/fetcher/streetview"
	"github.com/JakeFAU/streetview-ingestor/internal/geometry"
	"github.com/JakeFAU/streetview-ingestor/internal/geometry/overpass"
	idgen "github.com/JakeFAU/streetview-ingestor/internal/id/uuid"
	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
	"github.com/JakeFAU/streetview-ingestor/internal/logging"
	"github.com/JakeFAU/streetview-ingestor/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/streetview-ingestor/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/streetview-ingestor/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/streetview-ingestor/internal/publisher/pubsub"
	"github.com/JakeFAU/streetview-ingestor/internal/scheduler"
	gcsstorage "github.com/JakeFAU/streetview-ingestor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/streetview-ingestor/internal/storage/local"
	memorystorage "github.com/JakeFAU/streetview-ingestor/internal/storage/memory"
	pgstore "github.com/JakeFAU/streetview-ingestor/internal/storage/postgres"
)

// RunRecorder persists the lifecycle of a run.
type RunRecorder interface {
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	FinishRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status string,
		totals pgstore.RunTotals,
		errMsg *string,
	) error
}

// App contains the pipeline and the infrastructure it depends on.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID
	clock  ingest.Clock

	geometry  *overpass.Client
	sampler   *geometry.Sampler
	scheduler *scheduler.Scheduler
	runs      RunRecorder
	ops       *api.Server

	closers []func(context.Context) error
}

// BuildSampling wires only the geometry half of the pipeline. It touches no
// imagery, storage or event infrastructure.
func BuildSampling(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := app.setupGeometry(ctx); err != nil {
		app.closeQuietly()
		return nil, err
	}
	return app, nil
}

// Build wires the full ingest pipeline for one run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.ValidateIngest(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return nil, err
	}
	logger = logging.WithRun(logger, runID.String())

	app := &App{cfg: cfg, logger: logger, runID: runID, clock: system.New()}
	if err := app.build(ctx); err != nil {
		app.closeQuietly()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")

	if err := a.setupGeometry(ctx); err != nil {
		return err
	}

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}

	records, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.setupScheduler(blobs, records, publisher)

	if a.cfg.Metrics.Addr != "" {
		var runs api.RunReader
		if rs, ok := a.runs.(*pgstore.RunStore); ok {
			runs = rs
		}
		a.ops = api.NewServer(runs, a.logger.Named("ops"))
		a.ops.Start(a.cfg.Metrics.Addr)
		a.closers = append(a.closers, a.ops.Shutdown)
	}
	return nil
}

func (a *App) setupGeometry(ctx context.Context) error {
	a.geometry = overpass.New(overpass.Config{
		Endpoint:  a.cfg.Overpass.Endpoint,
		Tag:       a.cfg.Overpass.Tag,
		Timeout:   a.cfg.OverpassTimeout(),
		UserAgent: a.cfg.Imagery.UserAgent,
		CacheTTL:  a.cfg.CacheTTL(),
	}, a.geometryCache(ctx), a.logger.Named("overpass"))
	a.sampler = geometry.NewSampler(a.cfg.Sampling.SpacingMeters, a.cfg.Sampling.Precision)
	return nil
}

// geometryCache connects to the configured valkey instance. An unreachable
// cache is logged and the run proceeds uncached.
func (a *App) geometryCache(ctx context.Context) overpass.Cache {
	if a.cfg.Cache.Addr == "" {
		return nil
	}
	vc, err := valkeycache.New(a.cfg.Cache.Addr)
	if err != nil {
		a.logger.Warn("geometry cache unavailable; continuing without cache",
			zap.String("addr", a.cfg.Cache.Addr), zap.Error(err))
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := vc.Ping(pingCtx); err != nil {
		vc.Close()
		a.logger.Warn("geometry cache ping failed; continuing without cache",
			zap.String("addr", a.cfg.Cache.Addr), zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, func(context.Context) error {
		vc.Close()
		return nil
	})
	a.logger.Info("using valkey geometry cache", zap.String("addr", a.cfg.Cache.Addr))
	return vc
}

func (a *App) setupStorage(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        a.cfg.Storage.Bucket,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case config.ProviderLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.logger.Warn("using in-memory storage backend; imagery will not outlive the process")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (ingest.RecordStore, error) {
	if a.cfg.DB.Provider != config.ProviderPostgres {
		a.logger.Warn("using in-memory record store; idempotency will not span runs")
		return memorystorage.NewRecordStore(), nil
	}

	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.closers = append(a.closers, closePool(pool))

	records, err := pgstore.NewRecordStore(pool, a.cfg.DB.Table)
	if err != nil {
		return nil, err
	}
	runs, err := pgstore.NewRunStore(pool, a.cfg.DB.RunsTable)
	if err != nil {
		return nil, err
	}
	if a.cfg.DB.EnsureSchema {
		if err := records.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	a.runs = runs
	a.logger.Info("postgres record store initialized", zap.String("table", a.cfg.DB.Table))
	return records, nil
}

func closePool(pool *pgxpool.Pool) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (ingest.Publisher, error) {
	switch a.cfg.Events.Provider {
	case config.ProviderPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(client)
		a.closers = append(a.closers, func(context.Context) error {
			pub.Close()
			return client.Close()
		})
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return pub, nil
	case config.ProviderNATS:
		pub, err := natspublisher.Connect(a.cfg.Events.NATSURL, a.cfg.Events.Subject)
		if err != nil {
			return nil, fmt.Errorf("nats init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			pub.Close()
			return nil
		})
		a.logger.Info("NATS publisher initialized", zap.String("subject", pub.Subject(a.cfg.Events.Topic)))
		return pub, nil
	case config.ProviderMemory:
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupScheduler(blobs ingest.BlobStore, records ingest.RecordStore, publisher ingest.Publisher) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Imagery.MaxQPS,
		DefaultBurst: 1,
	})
	client := streetview.New(streetview.Config{
		Endpoint:  a.cfg.Imagery.Endpoint,
		APIKey:    a.cfg.Imagery.APIKey,
		Signature: a.cfg.Imagery.Signature,
		UserAgent: a.cfg.Imagery.UserAgent,
		Timeout:   a.cfg.ImageryTimeout(),
	}, limiter)

	writer := ingest.NewStorageWriter(blobs, records, publisher, a.clock, ingest.WriterConfig{
		BlobPrefix: a.cfg.Storage.Prefix,
		Topic:      a.cfg.Events.Topic,
		RunID:      a.runID.String(),
	}, a.logger.Named("writer"))

	fetcher := ingest.NewDirectionalFetcher(
		ingest.NewGuard(records),
		client,
		writer,
		ingest.NewExponentialRetryPolicy(a.cfg.Imagery.MaxAttempts),
		ingest.FetcherConfig{FOV: a.cfg.Imagery.FOV, Size: a.cfg.Imagery.Size},
		a.logger.Named("fetcher"),
	)

	a.scheduler = scheduler.New(fetcher, scheduler.Config{
		Delay: a.cfg.SchedulerDelay(),
		Seed:  a.cfg.Scheduler.Seed,
	}, a.logger.Named("scheduler"))
	a.logger.Info("pipeline ready",
		zap.Int("fov", a.cfg.Imagery.FOV),
		zap.String("size", a.cfg.Imagery.Size),
		zap.Float64("max_qps", a.cfg.Imagery.MaxQPS),
		zap.Duration("delay", a.cfg.SchedulerDelay()),
	)
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID returns the identifier stamped on every record of this run. It is the
// zero UUID for sampling-only apps.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// SamplePoints fetches the configured area's ways and returns deduplicated sample points.
func (a *App) SamplePoints(ctx context.Context) ([]ingest.Point, error) {
	b := a.cfg.BBox
	ways, err := a.geometry.FetchWays(ctx, geometry.Bound(b.MinLat, b.MinLon, b.MaxLat, b.MaxLon))
	if err != nil {
		return nil, err
	}
	lines := geometry.BuildLines(ways)
	points := a.sampler.Sample(lines)
	a.logger.Info("sampled area",
		zap.Int("ways", len(ways)),
		zap.Int("lines", len(lines)),
		zap.Int("points", len(points)),
		zap.Float64("spacing_m", a.sampler.Spacing()),
	)
	return points, nil
}

// Ingest runs the whole pipeline once. The returned error covers geometry
// failures and run bookkeeping; per-heading failures are only counted in the summary.
func (a *App) Ingest(ctx context.Context) (scheduler.Summary, error) {
	if a.scheduler == nil {
		return scheduler.Summary{}, errors.New("app was built without an ingest pipeline")
	}
	if a.runs != nil {
		if err := a.runs.StartRun(ctx, a.runID, a.clock.Now()); err != nil {
			return scheduler.Summary{}, err
		}
	}

	points, err := a.SamplePoints(ctx)
	if err != nil {
		a.finishRun(pgstore.RunFailed, scheduler.Summary{}, err)
		return scheduler.Summary{}, err
	}

	summary := a.scheduler.Run(ctx, points)
	status := pgstore.RunSucceeded
	if summary.Canceled {
		status = pgstore.RunCanceled
	}
	a.finishRun(status, summary, nil)
	return summary, nil
}

// finishRun uses a fresh context so canceled runs are still recorded.
func (a *App) finishRun(status string, summary scheduler.Summary, runErr error) {
	if a.runs == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	totals := pgstore.RunTotals{
		Points:    summary.Points,
		Processed: summary.Processed,
		Stored:    summary.Stored,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	}
	if err := a.runs.FinishRun(ctx, a.runID, a.clock.Now(), status, totals, msg); err != nil {
		a.logger.Warn("failed to record run completion", zap.String("status", status), zap.Error(err))
	}
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(err))
	}
}
