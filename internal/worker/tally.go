package worker

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Tally collects the outcome of every page processed by the workers of one harvest.
type Tally struct {
	mu       sync.Mutex
	saved    []int
	failures []harvest.FailureRecord
	stop     atomic.Bool
}

// NewTally returns an empty Tally.
func NewTally() *Tally {
	return &Tally{}
}

// Saved records a persisted page.
func (t *Tally) Saved(page int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saved = append(t.saved, page)
}

// Fail records a failed page.
func (t *Tally) Fail(rec harvest.FailureRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, rec)
}

// SavedPages returns the persisted page numbers in ascending order.
func (t *Tally) SavedPages() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]int(nil), t.saved...)
	sort.Ints(out)
	return out
}

// Failures returns the failures in the order they were recorded.
func (t *Tally) Failures() []harvest.FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]harvest.FailureRecord(nil), t.failures...)
}

// RequestStop asks the filler and every worker to skip the remaining pages.
func (t *Tally) RequestStop() {
	t.stop.Store(true)
}

// StopRequested reports whether RequestStop was called.
func (t *Tally) StopRequested() bool {
	return t.stop.Load()
}
