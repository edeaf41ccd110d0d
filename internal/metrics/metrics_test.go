package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/review/acme.com?page=2", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersInitializeLazily(t *testing.T) {
	ObservePage("https://www.example.com/review/acme.com?page=3", "saved")
	ObserveBlocked(403)
	ObserveRotation("success")
	ObserveFetch("ok", 150*time.Millisecond)
	ObserveHarvest("success", time.Minute)

	if val := testutil.ToFloat64(harvesterPagesTotal.WithLabelValues("www.example.com", "saved")); val < 1 {
		t.Errorf("expected saved page counter >= 1, got %f", val)
	}
	if val := testutil.ToFloat64(harvesterBlockedTotal.WithLabelValues("403")); val < 1 {
		t.Errorf("expected blocked counter >= 1, got %f", val)
	}
	if val := testutil.CollectAndCount(harvesterFetchDuration); val <= 0 {
		t.Errorf("expected fetch duration to be observed, got %d", val)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(harvesterActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(harvesterActiveWorkers); got != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
