package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKind(t *testing.T) {
	t.Parallel()

	blocked := &BlockedError{StatusCode: 403}
	cases := []struct {
		err  error
		kind string
		code int
	}{
		{blocked, KindBlocked, 403},
		{&RotationExhaustedError{Attempts: 10, Last: blocked}, KindRotationExhausted, 403},
		{&StatusError{StatusCode: 404}, KindHTTPStatus, 404},
		{fmt.Errorf("probe: %w", &TransientNetworkError{Err: errors.New("dial tcp: refused")}), KindTransient, 0},
		{&ExtractionError{Reason: "missing container"}, KindExtraction, 0},
		{&PersistenceError{Key: "page1_reviews.json", Err: errors.New("disk full")}, KindPersistence, 0},
		{context.Canceled, KindCanceled, 0},
		{errors.New("boom"), KindUnknown, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, ErrorKind(tc.err), tc.err.Error())
		require.Equal(t, tc.code, StatusCodeOf(tc.err), tc.err.Error())
	}
	require.Empty(t, ErrorKind(nil))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 250)
	require.Len(t, []rune(Truncate(long, 200)), 200)
	require.Equal(t, "short", Truncate("short", 200))
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusSuccess, DeriveStatus(3, 0))
	require.Equal(t, StatusPartialSuccess, DeriveStatus(3, 1))
	require.Equal(t, StatusFailed, DeriveStatus(0, 2))
	require.Equal(t, StatusNoData, DeriveStatus(0, 0))
}

func TestSample(t *testing.T) {
	t.Parallel()

	var failures []FailureRecord
	for i := 1; i <= 7; i++ {
		failures = append(failures, FailureRecord{Page: i})
	}
	sample := Sample(failures)
	require.Len(t, sample, FailureSampleSize)
	require.Equal(t, 1, sample[0].Page)
	require.Empty(t, Sample(nil))
}

func TestFailedStatusAndStatusErrorCoexist(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status("error"), StatusFailed)
	err := fmt.Errorf("fetch: %w", &StatusError{StatusCode: 404})
	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, 404, status.StatusCode)
}
