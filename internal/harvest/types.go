package harvest

import (
	"encoding/json"
	"time"
)

// Identity is the egress path and client identification presented for one fetch attempt.
// An empty Proxy means a direct connection.
type Identity struct {
	Proxy     string `json:"proxy"`
	UserAgent string `json:"user_agent"`
}

// ProxyLabel returns the proxy for display, "direct" when unset.
func (i Identity) ProxyLabel() string {
	if i.Proxy == "" {
		return "direct"
	}
	return i.Proxy
}

// FetchResult is what a PageFetcher extracts from one page.
type FetchResult struct {
	// Records is the ordered record list of the page; empty means "no data on this page".
	Records []json.RawMessage
	// TotalPagesHint is the pagination total when the page carried one.
	TotalPagesHint *int
	// Profile is the entity profile embedded in the page, if any.
	Profile *Profile
}

// Profile is the entity summary saved once per harvest. Field values are kept as
// they appeared in the page.
type Profile struct {
	ID              json.RawMessage `json:"id"`
	DisplayName     json.RawMessage `json:"displayName"`
	IdentifyingName json.RawMessage `json:"identifyingName"`
	NumberOfReviews json.RawMessage `json:"numberOfReviews"`
	TrustScore      json.RawMessage `json:"trustScore"`
	WebsiteURL      json.RawMessage `json:"websiteUrl"`
	Stars           json.RawMessage `json:"stars"`
}

// PageTask is a page number handed to a worker, or a stop sentinel.
type PageTask struct {
	Page int
	Stop bool
}

// StopTask returns the sentinel telling a worker to exit.
func StopTask() PageTask {
	return PageTask{Stop: true}
}

// FailureRecord captures a page that could not be harvested.
type FailureRecord struct {
	Page       int    `json:"page"`
	WorkerID   int    `json:"worker_id"`
	Kind       string `json:"error_type"`
	Message    string `json:"error_message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Request describes one harvest invocation.
type Request struct {
	URL string `json:"base_url"`
	// PageLimit caps the number of pages when > 0 and smaller than the resolved total.
	PageLimit int `json:"pages,omitempty"`
	// Workers overrides the configured worker count when > 0.
	Workers int `json:"workers,omitempty"`
}

// AuditOutcome is the final result of a blocking-triggered retry cycle.
type AuditOutcome string

// Audit outcomes.
const (
	AuditSuccess AuditOutcome = "success"
	AuditFailed  AuditOutcome = "failed"
)

// AuditEntry is one row of the blocking audit log.
type AuditEntry struct {
	Time        time.Time
	URL         string
	Identity    Identity
	Attempt     int
	MaxAttempts int
	StatusCode  int
	Outcome     AuditOutcome
}

// JobStatus represents the lifecycle state of a submitted harvest job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is the metadata kept for each submitted harvest request.
type Job struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	Request   Request    `json:"request"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Summary   *Summary   `json:"summary,omitempty"`
}
