package intercom

import (
	"context"
	"errors"
)

// Status tags the outcome of a fetch so callers can tell "no data in range"
// apart from "the fetch failed".
type Status string

const (
	StatusOK        Status = "ok"
	StatusEmpty     Status = "empty"
	StatusTransient Status = "transient_error"
	StatusFatal     Status = "fatal_error"
)

// Classify maps a fetch error to a Status. A nil error is StatusOK.
func Classify(err error) Status {
	if err == nil {
		return StatusOK
	}
	var rl *RateLimitError
	if errors.As(err, &rl) || errors.Is(err, context.DeadlineExceeded) {
		return StatusTransient
	}
	return StatusFatal
}

// UserMessage is the short text shown in the dashboard for a failed fetch.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rl *RateLimitError
	var apiErr *APIError
	switch {
	case errors.As(err, &rl):
		return "Intercom is rate limiting requests; try again in a minute."
	case errors.Is(err, context.DeadlineExceeded):
		return "Intercom did not answer in time; try again."
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403):
		return "Intercom rejected the API token."
	case errors.As(err, &apiErr):
		return "Intercom returned an error; data may be incomplete."
	default:
		return "Could not reach Intercom; data may be incomplete."
	}
}
