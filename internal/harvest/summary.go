package harvest

import "time"

// Status is the overall outcome of a harvest.
type Status string

// Harvest statuses.
const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "error"
	StatusNoData         Status = "no_data"
)

// FailureSampleSize bounds Summary.FailureSample.
const FailureSampleSize = 5

// Summary is produced once at the end of a harvest.
type Summary struct {
	Status                Status          `json:"status"`
	URL                   string          `json:"base_url"`
	Entity                string          `json:"entity"`
	OutputLocation        string          `json:"output_directory"`
	FilesSaved            int             `json:"files_saved"`
	ProfileSaved          bool            `json:"company_profile_saved"`
	PagesSaved            int             `json:"review_pages_saved_count"`
	FailedPages           int             `json:"failed_pages_count"`
	FailureSample         []FailureRecord `json:"failed_pages_summary_sample"`
	Failures              []FailureRecord `json:"-"`
	EffectiveLimit        int             `json:"effective_page_limit"`
	LimitSource           string          `json:"page_limit_source"`
	Workers               int             `json:"workers"`
	CoordinatorProxy      string          `json:"proxy_for_main_client"`
	WorkerProxiesFromPool bool            `json:"worker_proxies_used_from_pool"`
	StartedAt             time.Time       `json:"started_at"`
	FinishedAt            time.Time       `json:"finished_at"`
}

// DeriveStatus maps saved artifact and failure counts to a Status.
func DeriveStatus(saved, failures int) Status {
	switch {
	case saved > 0 && failures == 0:
		return StatusSuccess
	case saved > 0:
		return StatusPartialSuccess
	case failures > 0:
		return StatusFailed
	default:
		return StatusNoData
	}
}

// Sample returns at most FailureSampleSize leading failures.
func Sample(failures []FailureRecord) []FailureRecord {
	n := min(len(failures), FailureSampleSize)
	out := make([]FailureRecord, n)
	copy(out, failures[:n])
	return out
}
