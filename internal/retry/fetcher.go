package retry

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Fetcher wraps a PageFetcher with the inner retry policy so the same identity is
// retried on transient failures before any outer layer sees the error.
type Fetcher struct {
	next   harvest.PageFetcher
	policy Policy
}

// NewFetcher builds a retrying PageFetcher.
func NewFetcher(next harvest.PageFetcher, policy Policy) *Fetcher {
	return &Fetcher{next: next, policy: policy}
}

// Fetch implements harvest.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string, id harvest.Identity) (harvest.FetchResult, error) {
	p := f.policy
	if p.Logger != nil {
		p.Logger = p.Logger.With(zap.String("url", url))
	}
	return DoWithResult(ctx, p, func(ctx context.Context) (harvest.FetchResult, error) {
		return f.next.Fetch(ctx, url, id)
	})
}
