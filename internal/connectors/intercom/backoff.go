package intercom

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	minRateLimitWait = time.Second
	maxRateLimitWait = time.Minute
)

// backoffDelay returns the wait before retrying a throttled request.
// X-RateLimit-Reset carries the unix time at which the window reopens; the
// wait is reset-now+1s, clamped to [1s, 1m]. Without a usable header the wait
// is 2^attempt+1 seconds.
func backoffDelay(attempt int, resetHeader string, now time.Time) time.Duration {
	if raw := strings.TrimSpace(resetHeader); raw != "" {
		if reset, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(reset) && !math.IsInf(reset, 0) {
			resetAt := time.Unix(0, int64(reset*float64(time.Second)))
			wait := resetAt.Sub(now) + time.Second
			return min(max(wait, minRateLimitWait), maxRateLimitWait)
		}
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(1<<attempt+1) * time.Second
}
