package batchsvc

import (
	"errors"
	"fmt"
)

// ErrNotApplicable is returned by StartProcessing when the batch has no
// attached file. Callers treat it as a no-op, not a failure.
var ErrNotApplicable = errors.New("operation not applicable to this batch")

// APIError is an error response from the batch-processing service.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("batch service error %d (%s): %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("batch service error: status code %d", e.StatusCode)
}

// IsTransient reports whether an error is safe to swallow and retry on the
// next polling tick. Transport failures, rate limiting and server-side 5xx
// responses are transient; 4xx responses are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	if errors.Is(err, ErrNotApplicable) {
		return false
	}
	// Anything that never reached the service (DNS, refused connection,
	// timeout) is worth retrying.
	return true
}
