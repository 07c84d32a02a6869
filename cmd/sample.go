package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/streetview-ingestor/internal/app"
	"github.com/JakeFAU/streetview-ingestor/internal/geometry"
)

func newSampleCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Prints the sample points for the configured area as GeoJSON",
		Long: `Fetches geometry and samples it exactly as ingest would, then writes the
deduplicated points to stdout as a GeoJSON FeatureCollection. No imagery is
requested and nothing is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.BuildSampling(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize sampler: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.Close(closeCtx)
			}()

			points, err := a.SamplePoints(cmd.Context())
			if err != nil {
				return fmt.Errorf("sample: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(geometry.FeatureCollection(points))
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the GeoJSON output")
	return cmd
}
