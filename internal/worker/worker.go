// Package worker implements the page harvesting loop run by each worker of a harvest.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

// MessageLimit bounds FailureRecord.Message.
const MessageLimit = 200

// Queue is the part of the page queue a worker consumes.
type Queue interface {
	Dequeue(ctx context.Context) (harvest.PageTask, error)
	Done()
}

// Config controls Worker pacing and page addressing.
type Config struct {
	BaseURL   string
	Languages string
	// PageDelayMin and PageDelayMax bound the pause after every page.
	PageDelayMin time.Duration
	PageDelayMax time.Duration
	// Every BatchSize pages the worker additionally pauses between BatchDelayMin and BatchDelayMax.
	BatchSize     int
	BatchDelayMin time.Duration
	BatchDelayMax time.Duration
	// StopOnEmpty ends the harvest at the first empty page after page 1.
	StopOnEmpty bool
	Sleep       harvest.Sleeper
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		PageDelayMin:  time.Second,
		PageDelayMax:  2 * time.Second,
		BatchSize:     5,
		BatchDelayMin: 3 * time.Second,
		BatchDelayMax: 5 * time.Second,
	}
}

// Worker consumes page tasks and persists the records of each page.
type Worker struct {
	id         int
	queue      Queue
	fetcher    harvest.RotatingFetcher
	identities harvest.IdentitySource
	sink       harvest.ArtifactSink
	pace       *harvest.PaceState
	tally      *Tally
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue Queue,
	fetcher harvest.RotatingFetcher,
	identities harvest.IdentitySource,
	sink harvest.ArtifactSink,
	pace *harvest.PaceState,
	tally *Tally,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Sleep == nil {
		cfg.Sleep = harvest.Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		queue:      queue,
		fetcher:    fetcher,
		identities: identities,
		sink:       sink,
		pace:       pace,
		tally:      tally,
		cfg:        cfg,
		logger:     logger.With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming page tasks until a stop sentinel arrives or the context ends.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	processed := 0
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d: %w", w.id, err)
		}
		if task.Stop {
			w.queue.Done()
			w.logger.Debug("stop sentinel received", zap.Int("pages_processed", processed))
			return nil
		}
		if w.tally.StopRequested() {
			w.queue.Done()
			continue
		}
		if err := w.pace.Wait(ctx); err != nil {
			w.queue.Done()
			return err
		}

		w.processPage(ctx, task.Page)
		w.pace.Complete()
		w.queue.Done()
		processed++

		if err := w.pause(ctx, processed); err != nil {
			return err
		}
	}
}

func (w *Worker) pause(ctx context.Context, processed int) error {
	if err := w.cfg.Sleep(ctx, harvest.Between(w.cfg.PageDelayMin, w.cfg.PageDelayMax)); err != nil {
		return err
	}
	if w.cfg.BatchSize > 0 && processed%w.cfg.BatchSize == 0 {
		d := harvest.Between(w.cfg.BatchDelayMin, w.cfg.BatchDelayMax)
		w.logger.Debug("batch pause", zap.Int("pages_processed", processed), zap.Duration("delay", d))
		return w.cfg.Sleep(ctx, d)
	}
	return nil
}

func (w *Worker) processPage(ctx context.Context, page int) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing page", zap.Int("page", page), zap.Any("panic", r))
			w.fail(page, harvest.KindUnknown, fmt.Sprintf("panic: %v", r), 0)
		}
	}()

	url, err := harvest.PageURL(w.cfg.BaseURL, page, w.cfg.Languages)
	if err != nil {
		w.fail(page, harvest.KindUnknown, err.Error(), 0)
		return
	}

	res, used, err := w.fetcher.FetchWithRotation(ctx, url, w.identities.Random())
	if err != nil {
		w.logger.Error("page fetch failed",
			zap.Int("page", page),
			zap.String("url", url),
			zap.String("proxy", used.ProxyLabel()),
			zap.Error(err),
		)
		w.fail(page, harvest.ErrorKind(err), err.Error(), harvest.StatusCodeOf(err))
		metrics.ObservePage(w.cfg.BaseURL, "failed")
		return
	}

	if len(res.Records) == 0 {
		metrics.ObservePage(w.cfg.BaseURL, "empty")
		if page == 1 {
			w.logger.Warn("first page has no records", zap.String("url", url))
			return
		}
		w.logger.Warn("page has no records", zap.Int("page", page), zap.String("url", url))
		w.fail(page, harvest.KindNoRecords, fmt.Sprintf("no records found on page %d", page), 0)
		if w.cfg.StopOnEmpty {
			w.logger.Info("stopping harvest at first empty page", zap.Int("page", page))
			w.tally.RequestStop()
		}
		return
	}

	if err := w.sink.Save(ctx, harvest.PageKey(page), res.Records); err != nil {
		w.logger.Error("save page failed", zap.Int("page", page), zap.Error(err))
		w.fail(page, harvest.KindPersistence, err.Error(), 0)
		metrics.ObservePage(w.cfg.BaseURL, "failed")
		return
	}
	w.tally.Saved(page)
	metrics.ObservePage(w.cfg.BaseURL, "saved")
	w.logger.Debug("page saved",
		zap.Int("page", page),
		zap.Int("records", len(res.Records)),
		zap.String("proxy", used.ProxyLabel()),
	)
}

func (w *Worker) fail(page int, kind, msg string, status int) {
	w.tally.Fail(harvest.FailureRecord{
		Page:       page,
		WorkerID:   w.id,
		Kind:       kind,
		Message:    harvest.Truncate(msg, MessageLimit),
		StatusCode: status,
	})
}
