package harvest

import (
	"context"
	"sync"
	"sync/atomic"
)

// PaceState is the site-wide pacing state shared by the queue filler and the workers
// of one harvest: a gate that pauses every worker at once, and a counter of completed
// pages that only ever increases.
type PaceState struct {
	mu        sync.Mutex
	open      chan struct{}
	paused    bool
	completed atomic.Int64
}

// NewPaceState returns an open gate with a zero counter.
func NewPaceState() *PaceState {
	open := make(chan struct{})
	close(open)
	return &PaceState{open: open}
}

// Pause closes the gate. Workers block in Wait until Resume.
func (p *PaceState) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.open = make(chan struct{})
}

// Resume reopens the gate and releases every waiting worker.
func (p *PaceState) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.open)
}

// Paused reports whether the gate is closed.
func (p *PaceState) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait blocks while the gate is closed.
func (p *PaceState) Wait(ctx context.Context) error {
	p.mu.Lock()
	open := p.open
	p.mu.Unlock()
	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete records one processed page and returns the new total.
func (p *PaceState) Complete() int64 {
	return p.completed.Add(1)
}

// Completed returns the number of processed pages.
func (p *PaceState) Completed() int64 {
	return p.completed.Load()
}
