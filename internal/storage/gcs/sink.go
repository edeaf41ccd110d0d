// Package gcs provides an artifact sink backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	internalstorage "github.com/JakeFAU/review-harvester/internal/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Sink writes artifacts to gs://<bucket>/<prefix>/<entity>/<key>.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	dir    string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Prepare fixes the object prefix for entity. Buckets have no directories to create.
func (s *Sink) Prepare(_ context.Context, entity string) error {
	if strings.TrimSpace(entity) == "" {
		return fmt.Errorf("%w: empty entity", harvest.ErrDirectoryCreation)
	}
	s.dir = path.Join(s.prefix, entity)
	return nil
}

// Save uploads payload as one object.
func (s *Sink) Save(ctx context.Context, key string, payload any) error {
	if s.dir == "" {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("sink not prepared")}
	}
	if strings.TrimSpace(key) == "" {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("key is required")}
	}
	data, err := internalstorage.Encode(payload)
	if err != nil {
		return &harvest.PersistenceError{Key: key, Err: err}
	}

	writer := s.client.Bucket(s.bucket).Object(path.Join(s.dir, key)).NewWriter(ctx)
	writer.ContentType = internalstorage.ContentType(key)
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)}
		}
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("write object: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &harvest.PersistenceError{Key: key, Err: fmt.Errorf("close writer: %w", err)}
	}
	return nil
}

// Location returns the gs:// URI of the entity prefix.
func (s *Sink) Location() string {
	if s.dir == "" {
		return fmt.Sprintf("gs://%s/%s", s.bucket, s.prefix)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.dir)
}
