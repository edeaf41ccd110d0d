// Package local implements an artifact sink on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/storage"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// RootDir holds one directory per harvested entity.
	RootDir string `mapstructure:"root_dir" yaml:"root_dir"`
}

// Sink writes artifacts under <RootDir>/<entity>/<key>.
type Sink struct {
	root string
	dir  string
}

// New creates a local sink rooted at cfg.RootDir.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.RootDir) == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	return &Sink{root: cfg.RootDir}, nil
}

// Prepare creates the entity directory.
func (s *Sink) Prepare(_ context.Context, entity string) error {
	dir := filepath.Join(s.root, entity)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %s: %w", harvest.ErrDirectoryCreation, dir, err)
	}
	s.dir = dir
	return nil
}

// Save writes payload to key inside the entity directory.
func (s *Sink) Save(_ context.Context, key string, payload any) error {
	if s.dir == "" {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("sink not prepared")}
	}
	if strings.TrimSpace(key) == "" {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("key is required")}
	}

	fullPath := filepath.Join(s.dir, key)
	// Reject keys escaping the entity directory.
	if !strings.HasPrefix(filepath.Clean(fullPath), filepath.Clean(s.dir)+string(filepath.Separator)) {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("path traversal detected")}
	}

	data, err := storage.Encode(payload)
	if err != nil {
		return &harvest.PersistenceError{Key: key, Err: err}
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("write file: %w", err)}
	}
	return nil
}

// Location returns the entity directory, or the root before Prepare.
func (s *Sink) Location() string {
	if s.dir == "" {
		return s.root
	}
	return s.dir
}
