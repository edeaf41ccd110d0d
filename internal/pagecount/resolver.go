// Package pagecount discovers how many listing pages a harvest should cover.
package pagecount

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// ProbeOrder lists the pages probed for the pagination total. Page 2 goes first
// because some layouts omit pagination metadata on page 1.
var ProbeOrder = []int{2, 1}

// Resolver probes listing pages for their pagination total.
type Resolver struct {
	fetcher   harvest.PageFetcher
	identity  func() harvest.Identity
	languages string
	logger    *zap.Logger
}

// New builds a Resolver. fetcher is expected to carry the inner retry layer; identity
// supplies the identity presented by each probe.
func New(fetcher harvest.PageFetcher, identity func() harvest.Identity, languages string, logger *zap.Logger) *Resolver {
	if identity == nil {
		identity = func() harvest.Identity { return harvest.Identity{} }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:   fetcher,
		identity:  identity,
		languages: languages,
		logger:    logger,
	}
}

// Resolve returns the total page count and whether it could be determined. Probe
// failures are logged and never returned.
func (r *Resolver) Resolve(ctx context.Context, baseURL string) (int, bool) {
	for _, page := range ProbeOrder {
		if ctx.Err() != nil {
			return 0, false
		}
		url, err := harvest.PageURL(baseURL, page, r.languages)
		if err != nil {
			r.logger.Error("cannot build probe url", zap.String("base_url", baseURL), zap.Error(err))
			return 0, false
		}
		res, err := r.fetcher.Fetch(ctx, url, r.identity())
		if err != nil {
			r.logger.Warn("page count probe failed",
				zap.Int("probe_page", page),
				zap.String("url", url),
				zap.String("kind", harvest.ErrorKind(err)),
				zap.Error(err),
			)
			continue
		}
		// Zero is a real answer (no review pages); only a missing or negative total
		// moves on to the next probe.
		if res.TotalPagesHint == nil || *res.TotalPagesHint < 0 {
			r.logger.Info("probe carried no pagination total", zap.Int("probe_page", page), zap.String("url", url))
			continue
		}
		total := *res.TotalPagesHint
		r.logger.Info("resolved total pages",
			zap.Int("probe_page", page),
			zap.Int("total_pages", total),
		)
		return total, true
	}
	r.logger.Warn("could not determine total pages", zap.String("base_url", baseURL))
	return 0, false
}
