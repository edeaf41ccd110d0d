// Package memory keeps harvest artifacts and job metadata in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/storage"
)

// Sink stores encoded artifacts keyed by "<entity>/<key>".
type Sink struct {
	mu      sync.RWMutex
	entity  string
	objects map[string][]byte
	// FailKeys makes Save fail for the listed keys.
	FailKeys map[string]error
}

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{objects: make(map[string][]byte)}
}

// Prepare records the entity name.
func (s *Sink) Prepare(_ context.Context, entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = entity
	return nil
}

// Save encodes payload and stores a copy.
func (s *Sink) Save(_ context.Context, key string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.FailKeys[key]; ok {
		return &harvest.PersistenceError{Key: key, Err: err}
	}
	if s.entity == "" {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("sink not prepared")}
	}
	data, err := storage.Encode(payload)
	if err != nil {
		return &harvest.PersistenceError{Key: key, Err: err}
	}
	s.objects[path.Join(s.entity, key)] = append([]byte(nil), data...)
	return nil
}

// Location returns a pseudo URI for the entity.
func (s *Sink) Location() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return "memory://" + s.entity
}

// Object returns the stored bytes for key of the prepared entity.
func (s *Sink) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path.Join(s.entity, key)]
	return data, ok
}

// Keys lists the stored object names in order.
func (s *Sink) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
