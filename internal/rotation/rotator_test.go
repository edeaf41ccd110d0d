package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	results []error
	calls   []harvest.Identity
}

func (s *scriptedFetcher) Fetch(_ context.Context, _ string, id harvest.Identity) (harvest.FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, id)
	if idx < len(s.results) && s.results[idx] != nil {
		return harvest.FetchResult{}, s.results[idx]
	}
	return harvest.FetchResult{Records: []json.RawMessage{json.RawMessage(`{"id":"r"}`)}}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []harvest.AuditEntry
}

func (f *fakeAudit) Append(_ context.Context, e harvest.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type sequenceIdentities struct {
	n int
}

func (s *sequenceIdentities) Random() harvest.Identity {
	s.n++
	return harvest.Identity{Proxy: fmt.Sprintf("http://proxy-%d:8080", s.n), UserAgent: fmt.Sprintf("ua-%d", s.n)}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func blocked(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = &harvest.BlockedError{StatusCode: 403}
	}
	return out
}

func newRotator(f harvest.PageFetcher, a harvest.AuditLog, s *sleepRecorder) *Rotator {
	cfg := DefaultConfig()
	cfg.Sleep = s.sleep
	return New(f, &sequenceIdentities{}, a, fixedClock{time.Unix(1700000000, 0)}, cfg, zap.NewNop())
}

var initial = harvest.Identity{Proxy: "http://initial:8080", UserAgent: "ua-initial"}

func TestCleanSuccessWritesNoAudit(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	audit := &fakeAudit{}
	sleeper := &sleepRecorder{}
	res, used, err := newRotator(fetcher, audit, sleeper).FetchWithRotation(context.Background(), "https://x.example/p?page=1", initial)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, initial, used)
	require.Len(t, fetcher.calls, 1)
	require.Empty(t, audit.entries)
	require.Empty(t, sleeper.delays)
}

func TestRecoveryAfterBlocksWritesOneSuccessRow(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: blocked(2)}
	audit := &fakeAudit{}
	sleeper := &sleepRecorder{}
	res, used, err := newRotator(fetcher, audit, sleeper).FetchWithRotation(context.Background(), "https://x.example/p?page=2", initial)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	require.Len(t, fetcher.calls, 3)
	require.Equal(t, initial, fetcher.calls[0])
	require.NotEqual(t, fetcher.calls[0], fetcher.calls[1])
	require.NotEqual(t, fetcher.calls[1], fetcher.calls[2])
	require.Equal(t, fetcher.calls[2], used)
	require.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, sleeper.delays)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, harvest.AuditSuccess, entry.Outcome)
	require.Equal(t, 3, entry.Attempt)
	require.Equal(t, 10, entry.MaxAttempts)
	require.Equal(t, used, entry.Identity)
	require.Equal(t, "https://x.example/p?page=2", entry.URL)
}

func TestExhaustionWritesOneFailedRow(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: blocked(10)}
	audit := &fakeAudit{}
	sleeper := &sleepRecorder{}
	_, _, err := newRotator(fetcher, audit, sleeper).FetchWithRotation(context.Background(), "https://x.example/p?page=3", initial)

	var exhausted *harvest.RotationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 10, exhausted.Attempts)
	require.True(t, harvest.IsBlocked(err))
	require.Equal(t, 403, harvest.StatusCodeOf(err))
	require.Equal(t, harvest.KindRotationExhausted, harvest.ErrorKind(err))

	require.Len(t, fetcher.calls, 10)
	want := make([]time.Duration, 0, 9)
	for i := 1; i <= 9; i++ {
		want = append(want, time.Duration(i)*10*time.Second)
	}
	require.Equal(t, want, sleeper.delays)

	require.Len(t, audit.entries, 1)
	require.Equal(t, harvest.AuditFailed, audit.entries[0].Outcome)
	require.Equal(t, 10, audit.entries[0].Attempt)
	require.Equal(t, 403, audit.entries[0].StatusCode)
}

func TestNonBlockingErrorPropagatesWithoutRotation(t *testing.T) {
	t.Parallel()

	notFound := &harvest.StatusError{StatusCode: 404}
	fetcher := &scriptedFetcher{results: []error{notFound}}
	audit := &fakeAudit{}
	sleeper := &sleepRecorder{}
	_, used, err := newRotator(fetcher, audit, sleeper).FetchWithRotation(context.Background(), "https://x.example/p?page=1", initial)
	require.ErrorIs(t, err, notFound)
	require.Equal(t, initial, used)
	require.Len(t, fetcher.calls, 1)
	require.Empty(t, sleeper.delays)
	require.Empty(t, audit.entries)
}

func TestNonBlockingErrorAfterBlockAuditsFailure(t *testing.T) {
	t.Parallel()

	transient := &harvest.TransientNetworkError{Err: errors.New("connection reset")}
	fetcher := &scriptedFetcher{results: []error{&harvest.BlockedError{StatusCode: 502}, transient}}
	audit := &fakeAudit{}
	_, _, err := newRotator(fetcher, audit, &sleepRecorder{}).FetchWithRotation(context.Background(), "https://x.example/p?page=7", initial)
	require.ErrorIs(t, err, transient)
	require.Len(t, fetcher.calls, 2)
	require.Len(t, audit.entries, 1)
	require.Equal(t, harvest.AuditFailed, audit.entries[0].Outcome)
	require.Equal(t, 2, audit.entries[0].Attempt)
}

func TestCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{results: blocked(10)}
	audit := &fakeAudit{}
	cfg := DefaultConfig()
	cfg.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	r := New(fetcher, &sequenceIdentities{}, audit, nil, cfg, nil)
	_, last, err := r.FetchWithRotation(ctx, "https://x.example/p?page=9", initial)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, fetcher.calls, 1)
	require.Len(t, audit.entries, 1)
	require.Equal(t, harvest.AuditFailed, audit.entries[0].Outcome)
	// No new identity is drawn for an attempt that never happens.
	require.Equal(t, initial, audit.entries[0].Identity)
	require.Equal(t, initial, last)
}

func TestComposesWithInnerRetryLayer(t *testing.T) {
	t.Parallel()

	// Two transient failures are absorbed by the inner layer with the same identity,
	// then a block forces one rotation.
	fetcher := &scriptedFetcher{results: []error{
		&harvest.TransientNetworkError{Err: errors.New("timeout")},
		&harvest.StatusError{StatusCode: 503},
		&harvest.BlockedError{StatusCode: 403},
	}}
	inner := retry.NewFetcher(fetcher, retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Exponential{Min: 2 * time.Second, Max: 10 * time.Second},
		RetryIf:     retry.Transient(retry.DefaultRetryStatuses...),
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	audit := &fakeAudit{}
	sleeper := &sleepRecorder{}
	_, _, err := newRotator(inner, audit, sleeper).FetchWithRotation(context.Background(), "https://x.example/p?page=5", initial)
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 4)
	require.Equal(t, initial, fetcher.calls[0])
	require.Equal(t, initial, fetcher.calls[2])
	require.NotEqual(t, initial, fetcher.calls[3])
	require.Equal(t, []time.Duration{10 * time.Second}, sleeper.delays)
	require.Len(t, audit.entries, 1)
	require.Equal(t, harvest.AuditSuccess, audit.entries[0].Outcome)
}
