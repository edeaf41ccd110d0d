// Package server builds the harvester's dependency graph from configuration and runs
// the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/review-harvester/internal/api"
	"github.com/JakeFAU/review-harvester/internal/audit"
	"github.com/JakeFAU/review-harvester/internal/clock/system"
	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/coordinator"
	"github.com/JakeFAU/review-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/review-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/id/uuid"
	"github.com/JakeFAU/review-harvester/internal/identity"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/pagecount"
	"github.com/JakeFAU/review-harvester/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/review-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/review-harvester/internal/queue/memory"
	"github.com/JakeFAU/review-harvester/internal/retry"
	"github.com/JakeFAU/review-harvester/internal/rotation"
	gcssink "github.com/JakeFAU/review-harvester/internal/storage/gcs"
	localsink "github.com/JakeFAU/review-harvester/internal/storage/local"
	memorystore "github.com/JakeFAU/review-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/review-harvester/internal/storage/postgres"
	"github.com/JakeFAU/review-harvester/internal/telemetry"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

// App holds the wired harvester.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	coordinator *coordinator.Coordinator
	dispatch    *dispatcher.Dispatcher
	queue       *memory.Queue[dispatcher.Item]
	jobs        *memorystore.JobStore
	apiServer   *api.Server

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	ledger       *pgstore.Ledger
	tracing      telemetry.Shutdown
}

// Build creates the application's dependencies. Clients opened here are released by
// Close.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("workers", cfg.Harvest.Workers),
	)

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: "review-harvester",
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracing = tracing

	sinks, err := app.setupSinks(ctx)
	if err != nil {
		app.closeClients()
		return nil, err
	}
	if err := app.setupLedger(ctx); err != nil {
		app.closeClients()
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.closeClients()
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	pool := identity.New(cfg.Identity.Proxies, cfg.Identity.UserAgents)
	inner := app.fetchChain()
	rotator := rotation.New(inner, pool, audit.NewMarkdownLog(cfg.Audit.Path), clock, rotation.Config{
		MaxAttempts: cfg.Rotation.MaxAttempts,
		Backoff:     retry.Linear{Step: cfg.Rotation.BackoffStep},
	}, logger.Named("rotation"))

	// The resolver probes with the coordinator's own identity, which needs the
	// coordinator; the closure is only called once both exist.
	var coord *coordinator.Coordinator
	counter := pagecount.New(inner, func() harvest.Identity { return coord.MainIdentity() },
		cfg.Harvest.Languages, logger.Named("pagecount"))

	deps := coordinator.Deps{
		Fetcher:    inner,
		Rotator:    rotator,
		Counter:    counter,
		Identities: pool,
		Sinks:      sinks,
		Clock:      clock,
		IDs:        ids,
	}
	if app.ledger != nil {
		deps.Ledger = app.ledger
	}
	if app.publisher != nil {
		deps.Publisher = app.publisher
	}
	coord = coordinator.New(deps, coordinatorConfig(cfg), logger.Named("coordinator"))
	app.coordinator = coord

	app.jobs = memorystore.NewJobStore()
	app.queue = memory.NewQueue[dispatcher.Item](cfg.Dispatcher.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, coord, app.jobs, clock, cfg.Dispatcher.Concurrency,
		logger.Named("dispatcher"))
	app.apiServer = api.NewServer(app.jobs, app.dispatch, ids, clock, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		APIKey:         cfg.Server.APIKey,
	}, logger)
	return app, nil
}

// fetchChain assembles colly, the per-host cap and the inner retry layer.
func (a *App) fetchChain() harvest.PageFetcher {
	cfg := a.cfg
	var fetcher harvest.PageFetcher = collyfetcher.New(collyfetcher.Config{
		Timeout:        cfg.HTTP.Timeout,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		BlockStatuses:  cfg.Rotation.BlockStatuses,
	}, a.logger.Named("fetcher"))
	if cfg.HTTP.MaxRPS > 0 {
		fetcher = ratelimit.Wrap(ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.MaxRPS, Burst: cfg.HTTP.Burst}), fetcher)
		a.logger.Info("rate limiter enabled",
			zap.Float64("max_rps", cfg.HTTP.MaxRPS),
			zap.Int("burst", cfg.HTTP.Burst),
		)
	}
	return retry.NewFetcher(fetcher, retry.Policy{
		MaxAttempts: cfg.Probe.MaxAttempts,
		Backoff:     retry.Exponential{Min: cfg.Probe.BackoffMin, Max: cfg.Probe.BackoffMax},
		RetryIf:     retry.Transient(cfg.Probe.RetryStatuses...),
		Logger:      a.logger.Named("retry"),
	})
}

func coordinatorConfig(cfg config.Config) coordinator.Config {
	h := cfg.Harvest
	return coordinator.Config{
		Workers:       h.Workers,
		FallbackLimit: h.FallbackPageLimit,
		Languages:     h.Languages,
		EntityMarker:  h.EntityMarker,
		DefaultEntity: h.DefaultEntity,
		MainProxy:     h.MainProxy,
		PauseEvery:    h.PauseEvery,
		PauseMin:      h.PauseMin,
		PauseMax:      h.PauseMax,
		Worker: worker.Config{
			PageDelayMin:  h.PageDelayMin,
			PageDelayMax:  h.PageDelayMax,
			BatchSize:     h.BatchSize,
			BatchDelayMin: h.BatchDelayMin,
			BatchDelayMax: h.BatchDelayMax,
			StopOnEmpty:   h.StopOnEmpty,
		},
		Topic: cfg.PubSub.TopicName,
	}
}

func (a *App) setupSinks(ctx context.Context) (coordinator.SinkFactory, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		gcsCfg := gcssink.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix}
		if _, err := gcssink.New(client, gcsCfg); err != nil {
			return nil, fmt.Errorf("gcs sink init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", gcsCfg.Bucket))
		return func() harvest.ArtifactSink {
			s, _ := gcssink.New(client, gcsCfg)
			return s
		}, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return func() harvest.ArtifactSink { return memorystore.NewSink() }, nil
	default:
		localCfg := localsink.Config{RootDir: a.cfg.Storage.RootDir}
		if _, err := localsink.New(localCfg); err != nil {
			return nil, fmt.Errorf("local sink init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("root_dir", localCfg.RootDir))
		return func() harvest.ArtifactSink {
			s, _ := localsink.New(localCfg)
			return s
		}, nil
	}
}

func (a *App) setupLedger(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, harvest ledger disabled")
		return nil
	}
	ledger, err := pgstore.NewLedger(ctx, pgstore.LedgerConfig{
		DSN:           a.cfg.DB.DSN,
		RunsTable:     a.cfg.DB.RunsTable,
		FailuresTable: a.cfg.DB.FailuresTable,
		MaxConns:      a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("ledger init failed: %w", err)
	}
	a.ledger = ledger
	a.logger.Info("harvest ledger initialized", zap.String("runs_table", a.cfg.DB.RunsTable))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, completion notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Harvest runs one harvest in the foreground.
func (a *App) Harvest(ctx context.Context, req harvest.Request) (harvest.Summary, error) {
	return a.coordinator.Run(ctx, req)
}

// Serve runs the HTTP server and the dispatcher until ctx is canceled, then drains
// both. Running harvests see the cancellation and finish with a partial summary.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("concurrency", a.cfg.Dispatcher.Concurrency))
		a.dispatch.Run(gctx)
		a.logger.Info("dispatcher stopped")
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.apiServer.SetReady(false)
		a.queue.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// Close releases the clients opened by Build.
func (a *App) Close() error {
	err := a.closeClients()
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeClients() error {
	var errs []error
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
