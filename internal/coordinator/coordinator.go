// Package coordinator runs one harvest end to end: it resolves the page count, saves
// the entity profile, fans the pages out to workers and summarizes the outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/queue/memory"
	"github.com/JakeFAU/review-harvester/internal/report"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

// DefaultFallbackLimit caps a harvest whose page total could not be resolved.
const DefaultFallbackLimit = 20_000_000

const finishTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/review-harvester/internal/coordinator")

// State names a phase of a harvest. Transitions are logged.
type State string

// Harvest phases in order.
const (
	StateInitializing       State = "initializing"
	StateResolvingPageCount State = "resolving_page_count"
	StateFetchingProfile    State = "fetching_profile"
	StateWorking            State = "queueing_and_working"
	StateDraining           State = "draining"
	StateSummarizing        State = "summarizing"
	StateDone               State = "done"
)

// IdentityPool hands out worker identities and user agents for the coordinator's own requests.
type IdentityPool interface {
	harvest.IdentitySource
	RandomUserAgent() string
	HasProxies() bool
}

// SinkFactory returns a fresh ArtifactSink for one harvest.
type SinkFactory func() harvest.ArtifactSink

// Config controls a harvest.
type Config struct {
	Workers       int
	FallbackLimit int
	Languages     string
	EntityMarker  string
	DefaultEntity string
	// MainProxy is the proxy used for the page-count probes and the profile fetch.
	MainProxy string
	// Every PauseEvery completed pages all workers are paused for PauseMin..PauseMax.
	PauseEvery int
	PauseMin   time.Duration
	PauseMax   time.Duration
	Worker     worker.Config
	Topic      string
	Sleep      harvest.Sleeper
}

// DefaultConfig returns the production harvest settings.
func DefaultConfig() Config {
	return Config{
		Workers:       3,
		FallbackLimit: DefaultFallbackLimit,
		Languages:     "all",
		EntityMarker:  "review",
		DefaultEntity: "unknown_company",
		PauseEvery:    50,
		PauseMin:      5 * time.Second,
		PauseMax:      10 * time.Second,
		Worker:        worker.DefaultConfig(),
	}
}

// Deps are the collaborators of a Coordinator. Ledger, Publisher and IDs are optional.
type Deps struct {
	// Fetcher is the inner-retry PageFetcher used for the profile fetch.
	Fetcher    harvest.PageFetcher
	Rotator    harvest.RotatingFetcher
	Counter    harvest.PageCounter
	Identities IdentityPool
	Sinks      SinkFactory
	Ledger     harvest.Ledger
	Publisher  harvest.Publisher
	Clock      harvest.Clock
	IDs        harvest.IDGenerator
}

// Coordinator implements the harvest state machine.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Coordinator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = def.FallbackLimit
	}
	if cfg.EntityMarker == "" {
		cfg.EntityMarker = def.EntityMarker
	}
	if cfg.DefaultEntity == "" {
		cfg.DefaultEntity = def.DefaultEntity
	}
	if cfg.Sleep == nil {
		cfg.Sleep = harvest.Sleep
	}
	if cfg.Worker.Sleep == nil {
		cfg.Worker.Sleep = cfg.Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{deps: deps, cfg: cfg, logger: logger}
}

// MainIdentity is the identity of the coordinator's own requests: the configured main
// proxy and a random user agent.
func (c *Coordinator) MainIdentity() harvest.Identity {
	return harvest.Identity{Proxy: c.cfg.MainProxy, UserAgent: c.deps.Identities.RandomUserAgent()}
}

// Run harvests req under a freshly generated job id.
func (c *Coordinator) Run(ctx context.Context, req harvest.Request) (harvest.Summary, error) {
	jobID := ""
	if c.deps.IDs != nil {
		id, err := c.deps.IDs.NewID()
		if err != nil {
			return harvest.Summary{}, fmt.Errorf("generate job id: %w", err)
		}
		jobID = id
	}
	return c.RunJob(ctx, jobID, req)
}

// RunJob harvests req inside a "harvest" span, so the completion notification carries
// its trace context. Per-page failures are part of the summary; an error is returned
// only when the output location cannot be prepared, the URL is unusable, or ctx ends.
func (c *Coordinator) RunJob(ctx context.Context, jobID string, req harvest.Request) (harvest.Summary, error) {
	ctx, span := tracer.Start(ctx, "harvest", trace.WithAttributes(
		attribute.String("harvest.job_id", jobID),
		attribute.String("harvest.base_url", req.URL),
	))
	defer span.End()

	summary, err := c.runJob(ctx, jobID, req)
	span.SetAttributes(
		attribute.String("harvest.status", string(summary.Status)),
		attribute.Int("harvest.files_saved", summary.FilesSaved),
		attribute.Int("harvest.failed_pages", summary.FailedPages),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return summary, err
}

func (c *Coordinator) runJob(ctx context.Context, jobID string, req harvest.Request) (harvest.Summary, error) {
	logger := c.logger.With(zap.String("job_id", jobID), zap.String("base_url", req.URL))
	workers := req.Workers
	if workers <= 0 {
		workers = c.cfg.Workers
	}
	coordinatorProxy := c.cfg.MainProxy
	if coordinatorProxy == "" {
		coordinatorProxy = "none"
	}
	summary := harvest.Summary{
		URL:                   req.URL,
		Entity:                harvest.EntitySlug(req.URL, c.cfg.EntityMarker, c.cfg.DefaultEntity),
		Workers:               workers,
		CoordinatorProxy:      coordinatorProxy,
		WorkerProxiesFromPool: c.deps.Identities.HasProxies(),
		StartedAt:             c.now(),
	}

	c.transition(logger, StateInitializing)
	if _, err := harvest.PageURL(req.URL, 1, ""); err != nil {
		summary.Status = harvest.StatusFailed
		summary.FinishedAt = c.now()
		return summary, fmt.Errorf("invalid base url: %w", err)
	}
	sink := c.deps.Sinks()
	if err := sink.Prepare(ctx, summary.Entity); err != nil {
		logger.Error("prepare output location failed", zap.String("entity", summary.Entity), zap.Error(err))
		summary.Status = harvest.StatusFailed
		summary.FinishedAt = c.now()
		if !errors.Is(err, harvest.ErrDirectoryCreation) {
			err = fmt.Errorf("%w: %w", harvest.ErrDirectoryCreation, err)
		}
		return summary, err
	}
	summary.OutputLocation = sink.Location()

	c.transition(logger, StateResolvingPageCount)
	total, known := c.deps.Counter.Resolve(ctx, req.URL)
	summary.EffectiveLimit, summary.LimitSource = harvest.EffectiveLimit(total, known, req.PageLimit, c.cfg.FallbackLimit)
	logger.Info("effective page limit",
		zap.Int("limit", summary.EffectiveLimit),
		zap.String("source", summary.LimitSource),
	)

	c.transition(logger, StateFetchingProfile)
	summary.ProfileSaved = c.saveProfile(ctx, logger, sink, req.URL)

	var (
		tally   = worker.NewTally()
		runErr  error
		skipped = summary.EffectiveLimit == 0 || (!summary.ProfileSaved && !known)
	)
	if skipped {
		logger.Warn("no data to harvest; skipping page queue",
			zap.Int("limit", summary.EffectiveLimit),
			zap.Bool("total_known", known),
			zap.Bool("profile_saved", summary.ProfileSaved),
		)
	} else {
		runErr = c.harvestPages(ctx, logger, sink, tally, req.URL, summary.EffectiveLimit, workers)
	}

	c.transition(logger, StateSummarizing)
	c.summarize(&summary, tally)
	if skipped {
		// A saved profile alone does not make a harvest.
		summary.Status = harvest.StatusNoData
	}
	c.finish(ctx, logger, jobID, sink, summary)
	c.transition(logger, StateDone)
	logger.Info("harvest finished",
		zap.String("status", string(summary.Status)),
		zap.Int("files_saved", summary.FilesSaved),
		zap.Int("failed_pages", summary.FailedPages),
		zap.String("output", summary.OutputLocation),
	)
	return summary, runErr
}

func (c *Coordinator) saveProfile(ctx context.Context, logger *zap.Logger, sink harvest.ArtifactSink, baseURL string) bool {
	url, err := harvest.PageURL(baseURL, 1, c.cfg.Languages)
	if err != nil {
		logger.Error("cannot build profile url", zap.Error(err))
		return false
	}
	res, err := c.deps.Fetcher.Fetch(ctx, url, c.MainIdentity())
	if err != nil {
		logger.Warn("profile fetch failed",
			zap.String("url", url),
			zap.String("kind", harvest.ErrorKind(err)),
			zap.Error(err),
		)
		return false
	}
	if res.Profile == nil {
		logger.Warn("page carried no profile", zap.String("url", url))
		return false
	}
	if err := sink.Save(ctx, harvest.ProfileKey, res.Profile); err != nil {
		logger.Error("save profile failed", zap.Error(err))
		return false
	}
	logger.Info("profile saved", zap.String("key", harvest.ProfileKey))
	return true
}

func (c *Coordinator) harvestPages(
	ctx context.Context,
	logger *zap.Logger,
	sink harvest.ArtifactSink,
	tally *worker.Tally,
	baseURL string,
	limit int,
	workers int,
) error {
	c.transition(logger, StateWorking)
	queue := memory.NewQueue[harvest.PageTask](2 * workers)
	defer queue.Close()
	pace := harvest.NewPaceState()

	wcfg := c.cfg.Worker
	wcfg.BaseURL = baseURL
	wcfg.Languages = c.cfg.Languages

	var g errgroup.Group
	for i := 1; i <= workers; i++ {
		w := worker.New(i, queue, c.deps.Rotator, c.deps.Identities, sink, pace, tally, wcfg, logger)
		g.Go(func() error {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("worker stopped with error", zap.Int("worker_id", i), zap.Error(err))
			}
			return nil
		})
	}

	fillErr := c.fill(ctx, logger, queue, pace, tally, limit, workers)
	if fillErr != nil {
		logger.Warn("queue filler stopped early", zap.Error(fillErr))
	}

	c.transition(logger, StateDraining)
	joinErr := queue.Join(ctx)
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(fillErr, joinErr)
}

// fill enqueues pages 1..limit followed by one stop sentinel per worker. Every
// PauseEvery completed pages it pauses all workers once.
func (c *Coordinator) fill(
	ctx context.Context,
	logger *zap.Logger,
	queue *memory.Queue[harvest.PageTask],
	pace *harvest.PaceState,
	tally *worker.Tally,
	limit int,
	workers int,
) error {
	var lastMilestone int64
	for page := 1; page <= limit; page++ {
		if tally.StopRequested() {
			logger.Info("stop requested; no further pages queued", zap.Int("next_page", page))
			break
		}
		if err := queue.Enqueue(ctx, harvest.PageTask{Page: page}); err != nil {
			return err
		}
		if c.cfg.PauseEvery <= 0 {
			continue
		}
		every := int64(c.cfg.PauseEvery)
		milestone := pace.Completed() / every * every
		if milestone == 0 || milestone <= lastMilestone {
			continue
		}
		lastMilestone = milestone
		if err := c.pause(ctx, logger, pace, milestone); err != nil {
			return err
		}
	}
	for range workers {
		if err := queue.Enqueue(ctx, harvest.StopTask()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) pause(ctx context.Context, logger *zap.Logger, pace *harvest.PaceState, completed int64) error {
	d := harvest.Between(c.cfg.PauseMin, c.cfg.PauseMax)
	logger.Info("pausing all workers", zap.Int64("completed_pages", completed), zap.Duration("delay", d))
	metrics.ObservePacePause()
	pace.Pause()
	defer pace.Resume()
	return c.cfg.Sleep(ctx, d)
}

func (c *Coordinator) summarize(summary *harvest.Summary, tally *worker.Tally) {
	failures := tally.Failures()
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Page < failures[j].Page })
	summary.PagesSaved = len(tally.SavedPages())
	summary.FilesSaved = summary.PagesSaved
	if summary.ProfileSaved {
		summary.FilesSaved++
	}
	summary.Failures = failures
	summary.FailedPages = len(failures)
	summary.FailureSample = harvest.Sample(failures)
	summary.Status = harvest.DeriveStatus(summary.FilesSaved, summary.FailedPages)
	summary.FinishedAt = c.now()
}

// finish writes the report and notifies downstream systems. Every step is best effort
// and runs even when ctx has ended so partial harvests are still recorded.
func (c *Coordinator) finish(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	sink harvest.ArtifactSink,
	summary harvest.Summary,
) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	metrics.ObserveHarvest(string(summary.Status), summary.FinishedAt.Sub(summary.StartedAt))

	if doc, err := report.Render(summary); err != nil {
		logger.Error("render report failed", zap.Error(err))
	} else if err := sink.Save(ctx, harvest.ReportKey, doc); err != nil {
		logger.Error("save report failed", zap.Error(err))
	}

	if c.deps.Ledger != nil {
		if err := c.deps.Ledger.RecordRun(ctx, jobID, summary); err != nil {
			logger.Error("record run failed", zap.Error(err))
		}
	}

	if c.deps.Publisher != nil && c.cfg.Topic != "" {
		msgID, err := c.deps.Publisher.Publish(ctx, c.cfg.Topic, Completion{JobID: jobID, Summary: summary})
		if err != nil {
			logger.Error("publish completion failed", zap.Error(err))
		} else {
			logger.Debug("completion published", zap.String("message_id", msgID))
		}
	}
}

// Completion is the payload published when a harvest finishes.
type Completion struct {
	JobID   string          `json:"job_id"`
	Summary harvest.Summary `json:"summary"`
}

func (c *Coordinator) transition(logger *zap.Logger, s State) {
	logger.Info("harvest state", zap.String("state", string(s)))
}

func (c *Coordinator) now() time.Time {
	if c.deps.Clock != nil {
		return c.deps.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
