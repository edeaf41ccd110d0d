// Package rotation retries a page fetch under fresh identities when the site blocks
// the current one. It is the outer retry layer; transient failures are handled by
// the fetcher it wraps.
package rotation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

// Config tunes the rotation policy.
type Config struct {
	// MaxAttempts bounds fetch attempts per page, the first included.
	MaxAttempts int
	// Backoff yields the wait after the n-th blocked attempt.
	Backoff retry.Backoff
	// Sleep waits between attempts; defaults to harvest.Sleep.
	Sleep harvest.Sleeper
}

// DefaultConfig is 10 attempts with waits of 10s, 20s, ... 90s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		Backoff:     retry.Linear{Step: 10 * time.Second},
	}
}

// Rotator implements harvest.RotatingFetcher.
type Rotator struct {
	fetcher    harvest.PageFetcher
	identities harvest.IdentitySource
	audit      harvest.AuditLog
	clock      harvest.Clock
	cfg        Config
	logger     *zap.Logger
}

// New builds a Rotator. audit and clock may be nil.
func New(
	fetcher harvest.PageFetcher,
	identities harvest.IdentitySource,
	audit harvest.AuditLog,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Rotator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if cfg.Sleep == nil {
		cfg.Sleep = harvest.Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{
		fetcher:    fetcher,
		identities: identities,
		audit:      audit,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// FetchWithRotation fetches url starting with initial. On a blocking response it draws
// a new identity, waits the escalating backoff and tries again, up to MaxAttempts.
// Any other error is returned at once. When at least one attempt was blocked exactly
// one audit entry records how the cycle ended.
func (r *Rotator) FetchWithRotation(
	ctx context.Context,
	url string,
	initial harvest.Identity,
) (harvest.FetchResult, harvest.Identity, error) {
	id := initial
	var (
		lastBlocked error
		blockedSeen bool
	)
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		res, err := r.fetcher.Fetch(ctx, url, id)
		if err == nil {
			if blockedSeen {
				r.record(ctx, url, id, attempt, 0, harvest.AuditSuccess)
				metrics.ObserveRotation("success")
				r.logger.Info("recovered from blocking",
					zap.String("url", url),
					zap.Int("attempt", attempt),
					zap.String("proxy", id.ProxyLabel()),
				)
			}
			return res, id, nil
		}
		if !harvest.IsBlocked(err) {
			if blockedSeen {
				r.record(ctx, url, id, attempt, harvest.StatusCodeOf(err), harvest.AuditFailed)
				metrics.ObserveRotation("failed")
			}
			return harvest.FetchResult{}, id, err
		}

		blockedSeen = true
		lastBlocked = err
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.cfg.Backoff.Delay(attempt)
		r.logger.Warn("blocked, rotating identity",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.MaxAttempts),
			zap.Int("status", harvest.StatusCodeOf(err)),
			zap.String("proxy", id.ProxyLabel()),
			zap.Duration("backoff", delay),
		)
		if serr := r.cfg.Sleep(ctx, delay); serr != nil {
			r.record(ctx, url, id, attempt, harvest.StatusCodeOf(err), harvest.AuditFailed)
			metrics.ObserveRotation("failed")
			return harvest.FetchResult{}, id, serr
		}
		id = r.identities.Random()
	}

	r.record(ctx, url, id, r.cfg.MaxAttempts, harvest.StatusCodeOf(lastBlocked), harvest.AuditFailed)
	metrics.ObserveRotation("exhausted")
	r.logger.Error("identity rotation exhausted",
		zap.String("url", url),
		zap.Int("attempts", r.cfg.MaxAttempts),
		zap.Error(lastBlocked),
	)
	return harvest.FetchResult{}, id, &harvest.RotationExhaustedError{
		Attempts: r.cfg.MaxAttempts,
		Last:     lastBlocked,
	}
}

func (r *Rotator) record(
	ctx context.Context,
	url string,
	id harvest.Identity,
	attempt int,
	status int,
	outcome harvest.AuditOutcome,
) {
	if r.audit == nil {
		return
	}
	now := time.Now()
	if r.clock != nil {
		now = r.clock.Now()
	}
	entry := harvest.AuditEntry{
		Time:        now,
		URL:         url,
		Identity:    id,
		Attempt:     attempt,
		MaxAttempts: r.cfg.MaxAttempts,
		StatusCode:  status,
		Outcome:     outcome,
	}
	// The row is written even when the harvest is being canceled.
	if err := r.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("audit append failed", zap.String("url", url), zap.Error(err))
	}
}
