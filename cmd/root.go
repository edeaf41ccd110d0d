// Package cmd defines the CLI commands of the review-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/logging"
	"github.com/JakeFAU/review-harvester/internal/server"
)

// appKeyType is the key for storing the runtime in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the wired application. Tests swap in a fake
// through newApp.
type App interface {
	Serve(ctx context.Context) error
	Harvest(ctx context.Context, req harvest.Request) (harvest.Summary, error)
	Close() error
}

type runtime struct {
	app    App
	cfg    config.Config
	logger *zap.Logger
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "review-harvester",
		Short: "Harvests paginated review listings into per-page JSON artifacts.",
		Long: `review-harvester walks every listing page of a review site, rotating proxy and
user-agent identities when the site blocks, and stores each page's records plus the
entity profile and a run summary.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			app, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &runtime{app: app, cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./harvester.yaml and /etc/review-harvester/)")
	cmd.AddCommand(newServeCmd(), newHarvestCmd())
	return cmd
}

// withRuntime runs fn against the application stored by PersistentPreRunE and closes
// the application afterwards, whether fn fails or not.
func withRuntime(cmd *cobra.Command, fn func(rt *runtime) error) error {
	rt, ok := cmd.Context().Value(appKey).(*runtime)
	if !ok || rt == nil {
		return errors.New("application services not initialized")
	}
	defer func() {
		if err := rt.app.Close(); err != nil {
			rt.logger.Warn("close failed", zap.Error(err))
		}
		_ = rt.logger.Sync()
	}()
	return fn(rt)
}

// Execute runs the root command until it finishes or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
