package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrDirectoryCreation aborts a harvest before any page is fetched.
var ErrDirectoryCreation = errors.New("output directory creation failed")

// ErrJobNotFound is returned by job stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Failure kinds recorded in FailureRecord.Kind.
const (
	KindBlocked           = "blocked"
	KindRotationExhausted = "rotation_exhausted"
	KindTransient         = "transient_network"
	KindHTTPStatus        = "http_status"
	KindExtraction        = "extraction"
	KindPersistence       = "persistence"
	KindNoRecords         = "no records"
	KindCanceled          = "canceled"
	KindUnknown           = "unknown"
)

// BlockedError reports a response the server sent to refuse automated traffic.
type BlockedError struct {
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked: status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusError reports a non-blocking, non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// TransientNetworkError wraps connect, read, timeout and protocol failures.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ExtractionError reports a missing, empty or malformed embedded data container.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Reason, e.Err)
	}
	return "extraction: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RotationExhaustedError is returned once every rotation attempt was blocked.
type RotationExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RotationExhaustedError) Error() string {
	return fmt.Sprintf("still blocked after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RotationExhaustedError) Unwrap() error { return e.Last }

// PersistenceError wraps an artifact write failure.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorKind maps an error to the tag stored in FailureRecord.Kind.
func ErrorKind(err error) string {
	var (
		exhausted   *RotationExhaustedError
		blocked     *BlockedError
		status      *StatusError
		transient   *TransientNetworkError
		extraction  *ExtractionError
		persistence *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &exhausted):
		return KindRotationExhausted
	case errors.As(err, &blocked):
		return KindBlocked
	case errors.As(err, &persistence):
		return KindPersistence
	case errors.As(err, &status):
		return KindHTTPStatus
	case errors.As(err, &transient):
		return KindTransient
	case errors.As(err, &extraction):
		return KindExtraction
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// StatusCodeOf returns the HTTP status behind err, or 0 when it was not HTTP-derived.
func StatusCodeOf(err error) int {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked.StatusCode
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode
	}
	return 0
}

// IsBlocked reports whether err is (or wraps) a BlockedError.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
