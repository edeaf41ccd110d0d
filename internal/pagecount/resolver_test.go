package pagecount

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

type probeFetcher struct {
	mu     sync.Mutex
	byPage map[string]func(call int) (harvest.FetchResult, error)
	calls  map[string]int
	order  []string
}

func newProbeFetcher() *probeFetcher {
	return &probeFetcher{
		byPage: map[string]func(int) (harvest.FetchResult, error){},
		calls:  map[string]int{},
	}
}

func (p *probeFetcher) Fetch(_ context.Context, url string, _ harvest.Identity) (harvest.FetchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := "page=1"
	if strings.Contains(url, "page=2") {
		key = "page=2"
	}
	p.calls[key]++
	p.order = append(p.order, key)
	if fn, ok := p.byPage[key]; ok {
		return fn(p.calls[key])
	}
	return harvest.FetchResult{}, nil
}

func total(n int) *int { return &n }

func innerRetry(next harvest.PageFetcher) harvest.PageFetcher {
	return retry.NewFetcher(next, retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Exponential{Min: 2 * time.Second, Max: 10 * time.Second},
		RetryIf:     retry.Transient(retry.DefaultRetryStatuses...),
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
}

const base = "https://www.example.com/review/acme.com"

func TestResolvePrefersPageTwo(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	f.byPage["page=2"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{TotalPagesHint: total(5)}, nil
	}
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.True(t, ok)
	require.Equal(t, 5, n)
	require.Equal(t, []string{"page=2"}, f.order)
}

func TestResolveFallsBackToPageOneAfterTransientFailures(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	f.byPage["page=2"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{}, &harvest.TransientNetworkError{Err: errors.New("connect timeout")}
	}
	f.byPage["page=1"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{TotalPagesHint: total(8)}, nil
	}
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.True(t, ok)
	require.Equal(t, 8, n)
	require.Equal(t, 3, f.calls["page=2"])
	require.Equal(t, 1, f.calls["page=1"])
}

func TestResolveFallsBackWhenPageTwoHasNoTotal(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	f.byPage["page=1"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{TotalPagesHint: total(1)}, nil
	}
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.True(t, ok)
	require.Equal(t, 1, n)
}

func TestResolveDoesNotRetryBlockedProbes(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	blocked := func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{}, &harvest.BlockedError{StatusCode: 403}
	}
	f.byPage["page=2"] = blocked
	f.byPage["page=1"] = blocked
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.False(t, ok)
	require.Zero(t, n)
	require.Equal(t, 1, f.calls["page=2"])
	require.Equal(t, 1, f.calls["page=1"])
}

func TestResolveRetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	f.byPage["page=2"] = func(call int) (harvest.FetchResult, error) {
		if call < 3 {
			return harvest.FetchResult{}, &harvest.StatusError{StatusCode: 429}
		}
		return harvest.FetchResult{TotalPagesHint: total(12)}, nil
	}
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.True(t, ok)
	require.Equal(t, 12, n)
	require.Equal(t, 3, f.calls["page=2"])
}

func TestResolveUnknownOnInvalidURL(t *testing.T) {
	t.Parallel()

	_, ok := New(newProbeFetcher(), nil, "all", nil).Resolve(context.Background(), "not a url")
	require.False(t, ok)
}

func TestResolveAcceptsZeroTotal(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	f.byPage["page=2"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{TotalPagesHint: total(0)}, nil
	}
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.True(t, ok)
	require.Zero(t, n)
	require.Equal(t, []string{"page=2"}, f.order)
}

func TestResolveSkipsNegativeTotal(t *testing.T) {
	t.Parallel()

	f := newProbeFetcher()
	f.byPage["page=2"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{TotalPagesHint: total(-1)}, nil
	}
	f.byPage["page=1"] = func(int) (harvest.FetchResult, error) {
		return harvest.FetchResult{TotalPagesHint: total(4)}, nil
	}
	n, ok := New(innerRetry(f), nil, "all", nil).Resolve(context.Background(), base)
	require.True(t, ok)
	require.Equal(t, 4, n)
	require.Equal(t, []string{"page=2", "page=1"}, f.order)
}
