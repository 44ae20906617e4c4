// internal/time_parser.go
// ------------------------
// Helpers for the time values vendors put in rate limit headers.
//
// Functions:
//   - ParseRetryAfter: Retry-After as delta-seconds or HTTP-date.
//   - ParseResetHeader: x-ratelimit-reset style unix seconds into unix ms.
//   - UnixToMs / IsInFuture: conversions on unix milliseconds.
package internal

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter parses a Retry-After value relative to now. It returns 0
// when the value is empty, malformed or already in the past.
func ParseRetryAfter(val string, now time.Time) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0
		}
		return time.Duration(math.Ceil(secs)) * time.Second
	}

	for _, layout := range []string{time.RFC1123, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, val); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return 0
}

// ParseResetHeader converts a unix timestamp in seconds into unix ms.
func ParseResetHeader(val string) (int64, bool) {
	ts, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return UnixToMs(ts), true
}

// UnixToMs converts a UNIX timestamp in seconds to milliseconds.
func UnixToMs(timestamp int64) int64 {
	return timestamp * 1000
}

// IsInFuture checks if a timestamp (in ms) is after now.
func IsInFuture(ms int64, now time.Time) bool {
	return ms > now.UnixMilli()
}
