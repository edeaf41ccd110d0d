package retry

import (
	"errors"
	"slices"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// DefaultRetryStatuses are the rate-limit and server-error codes retried in place.
var DefaultRetryStatuses = []int{429, 500, 502, 503, 504}

// Transient returns a predicate accepting transient network failures and status errors
// whose code is in statuses. Blocking responses are never retried by this layer; they
// belong to identity rotation.
func Transient(statuses ...int) func(error) bool {
	set := slices.Clone(statuses)
	return func(err error) bool {
		if err == nil || harvest.IsBlocked(err) {
			return false
		}
		var transient *harvest.TransientNetworkError
		if errors.As(err, &transient) {
			return true
		}
		var status *harvest.StatusError
		if errors.As(err, &status) {
			return slices.Contains(set, status.StatusCode)
		}
		return false
	}
}
