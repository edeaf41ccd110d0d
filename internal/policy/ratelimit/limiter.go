// Package ratelimit caps the request rate per host across every worker of a harvest.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained request rate per host; <= 0 disables limiting.
	RPS   float64
	Burst int
}

// Limiter hands out one token bucket per host.
type Limiter struct {
	every rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New builds a Limiter from cfg. Burst defaults to 1.
func New(cfg Config) *Limiter {
	l := &Limiter{every: rate.Inf, burst: max(cfg.Burst, 1), buckets: map[string]*rate.Limiter{}}
	if cfg.RPS > 0 {
		l.every = rate.Limit(cfg.RPS)
	}
	return l
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[host] = b
	}
	return b
}

// Wait blocks until the host of rawURL may be contacted again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	began := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", host, err)
	}
	// Tokens that were already available are not worth a sample.
	if waited := time.Since(began); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// Fetcher waits on the limiter before delegating each fetch attempt.
type Fetcher struct {
	limiter *Limiter
	next    harvest.PageFetcher
}

// Wrap returns next guarded by l. A nil limiter returns next unchanged.
func Wrap(l *Limiter, next harvest.PageFetcher) harvest.PageFetcher {
	if l == nil {
		return next
	}
	return &Fetcher{limiter: l, next: next}
}

// Fetch implements harvest.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string, id harvest.Identity) (harvest.FetchResult, error) {
	if err := f.limiter.Wait(ctx, url); err != nil {
		return harvest.FetchResult{}, err
	}
	return f.next.Fetch(ctx, url, id)
}
