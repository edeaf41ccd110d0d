package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func newHarvestCmd() *cobra.Command {
	var req harvest.Request
	cmd := &cobra.Command{
		Use:   "harvest <base-url>",
		Short: "Harvests one listing in the foreground and prints the run summary",
		Long: `Harvests every page behind base-url with the configured storage backend and
prints the summary as JSON. Interrupting the run stops the workers and still prints
(and stores) the partial summary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.PageLimit < 0 || req.Workers < 0 {
				return errors.New("--pages and --workers must not be negative")
			}
			req.URL = args[0]
			return withRuntime(cmd, func(rt *runtime) error {
				return runHarvest(cmd, rt, req)
			})
		},
	}
	cmd.Flags().IntVar(&req.PageLimit, "pages", 0, "stop after this many pages (0 means all)")
	cmd.Flags().IntVar(&req.Workers, "workers", 0, "worker count (0 uses harvest.workers)")
	return cmd
}

func runHarvest(cmd *cobra.Command, rt *runtime, req harvest.Request) error {
	summary, runErr := rt.app.Harvest(cmd.Context(), req)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("harvest: %w", runErr)
	}
	if runErr != nil {
		rt.logger.Warn("harvest interrupted", zap.Error(runErr))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if summary.Status == harvest.StatusFailed {
		return fmt.Errorf("harvest of %s finished with status %s", req.URL, summary.Status)
	}
	return nil
}
