package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func TestRenderIncludesCountsAndFailures(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	doc, err := Render(harvest.Summary{
		Status:         harvest.StatusPartialSuccess,
		URL:            "https://reviews.example.com/review/acme.com",
		Entity:         "acme.com",
		FilesSaved:     3,
		PagesSaved:     2,
		ProfileSaved:   true,
		FailedPages:    1,
		EffectiveLimit: 3,
		LimitSource:    "resolved (3 pages)",
		Failures: []harvest.FailureRecord{
			{Page: 3, WorkerID: 2, Kind: harvest.KindRotationExhausted, Message: "blocked", StatusCode: 403},
		},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	})
	require.NoError(t, err)

	out := string(doc)
	require.Contains(t, out, "# Harvest Summary")
	require.Contains(t, out, "partial_success")
	require.Contains(t, out, "acme.com")
	require.Contains(t, out, "resolved (3 pages)")
	require.Contains(t, out, "rotation_exhausted")
	require.Contains(t, out, "403")
	require.Contains(t, out, "1m30s")
}

func TestRenderWithoutFailures(t *testing.T) {
	t.Parallel()

	doc, err := Render(harvest.Summary{Status: harvest.StatusNoData})
	require.NoError(t, err)
	require.Contains(t, string(doc), "No failed pages.")
	require.Contains(t, string(doc), "no_data")
}
