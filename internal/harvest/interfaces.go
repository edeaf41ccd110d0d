package harvest

import (
	"context"
	"time"
)

// PageFetcher performs one fetch of a page under the given identity.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, id Identity) (FetchResult, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, url string, id Identity) (FetchResult, error)

// Fetch calls f.
func (f PageFetcherFunc) Fetch(ctx context.Context, url string, id Identity) (FetchResult, error) {
	return f(ctx, url, id)
}

// IdentitySource hands out identities for rotation.
type IdentitySource interface {
	Random() Identity
}

// RotatingFetcher fetches a page, rotating identities on blocking responses.
type RotatingFetcher interface {
	FetchWithRotation(ctx context.Context, url string, initial Identity) (FetchResult, Identity, error)
}

// PageCounter resolves the total number of pages behind a base URL.
type PageCounter interface {
	Resolve(ctx context.Context, baseURL string) (int, bool)
}

// ArtifactSink persists harvested artifacts for one entity.
type ArtifactSink interface {
	// Prepare makes the entity's output location ready. A failure aborts the harvest.
	Prepare(ctx context.Context, entity string) error
	// Save writes payload under key inside the prepared location.
	Save(ctx context.Context, key string, payload any) error
	// Location describes where artifacts end up.
	Location() string
}

// AuditLog records the outcome of blocking-triggered retry cycles.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// Ledger keeps a durable record of finished harvests.
type Ledger interface {
	RecordRun(ctx context.Context, jobID string, summary Summary) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobStore persists harvest job metadata for the API.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	StartJob(ctx context.Context, jobID string, started time.Time) error
	FinishJob(ctx context.Context, jobID string, status JobStatus, finished time.Time, errText string, summary *Summary) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
