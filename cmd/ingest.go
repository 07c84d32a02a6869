package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/streetview-ingestor/internal/app"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Runs the full ingestion pipeline once",
		Long: `Fetches the configured area's street geometry, samples it, shuffles the points
and stores up to four headings of imagery per point. Headings already on record
are skipped, so an interrupted run can simply be restarted.`,
		RunE: runIngestCommand,
	}
}

func runIngestCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			a.Logger().Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	summary, err := a.Ingest(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	a.Logger().Info("ingest command finished",
		zap.Int("points", summary.Points),
		zap.Int("stored", summary.Stored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("canceled", summary.Canceled),
	)
	return nil
}
