// Package collyfetcher implements harvest.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/extract"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

// DefaultBlockStatuses are the statuses treated as bot blocking.
var DefaultBlockStatuses = []int{http.StatusForbidden, http.StatusBadGateway}

// Config controls collector behavior.
type Config struct {
	Timeout        time.Duration
	AcceptLanguage string
	// BlockStatuses are the response codes reported as *harvest.BlockedError.
	BlockStatuses []int
}

// Fetcher implements harvest.PageFetcher with a fresh collector and transport per
// call, so no connection outlives the identity it was opened for.
type Fetcher struct {
	cfg          Config
	logger       *zap.Logger
	newTransport func() *http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type attempt struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if cfg.BlockStatuses == nil {
		cfg.BlockStatuses = slices.Clone(DefaultBlockStatuses)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:          cfg,
		logger:       logger,
		newTransport: newHTTPTransport,
	}
}

// Fetch performs one GET of url under id and extracts the embedded data container.
func (f *Fetcher) Fetch(ctx context.Context, url string, id harvest.Identity) (harvest.FetchResult, error) {
	start := time.Now()
	var res attempt
	collector, err := f.buildCollector(ctx, id, &res)
	if err != nil {
		return harvest.FetchResult{}, err
	}
	if err := f.runCollector(ctx, collector, url, &res); err != nil {
		metrics.ObserveFetch("error", time.Since(start))
		return harvest.FetchResult{}, err
	}

	if cerr := f.classify(res.status); cerr != nil {
		metrics.ObserveFetch(harvest.ErrorKind(cerr), time.Since(start))
		return harvest.FetchResult{}, cerr
	}
	metrics.ObserveFetch("ok", time.Since(start))

	page, err := extract.Parse(res.body)
	if err != nil {
		f.logger.Warn("embedded data unavailable, treating page as empty",
			zap.String("url", url),
			zap.Error(err),
		)
		return harvest.FetchResult{}, nil
	}
	return harvest.FetchResult{
		Records:        page.Records,
		TotalPagesHint: page.TotalPages,
		Profile:        page.Profile,
	}, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, id harvest.Identity, res *attempt) (*colly.Collector, error) {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	collector.ParseHTTPErrorResponse = true
	collector.UserAgent = id.UserAgent
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.newTransport())
	if id.Proxy != "" {
		if err := collector.SetProxy(id.Proxy); err != nil {
			return nil, fmt.Errorf("set proxy %q: %w", id.Proxy, err)
		}
	}
	f.configureCollectorHooks(collector, res)
	return collector, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, res *attempt) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, res *attempt) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = res.err
		}
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		if res.status != 0 {
			// Status errors are classified after the visit.
			return nil
		}
		return &harvest.TransientNetworkError{Err: err}
	}
}

func (f *Fetcher) classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case slices.Contains(f.cfg.BlockStatuses, status):
		metrics.ObserveBlocked(status)
		return &harvest.BlockedError{StatusCode: status}
	case status == 0:
		return &harvest.TransientNetworkError{Err: errors.New("no response received")}
	default:
		return &harvest.StatusError{StatusCode: status}
	}
}

// newHTTPTransport returns a single-use transport: no keep-alives and no idle pool.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxConnsPerHost:       1,
	}
}
