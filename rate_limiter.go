// rate_limiter.go
// ----------------
// RateLimitState is the per-client record of what the vendor last said about
// its rate limit. Vendors use one of two header schemes:
//   - remaining + reset  (GitHub, Box, most REST APIs)
//   - limit + used + reset (ZenHub)
//
// Classifiers update the state after every response. Before sending, the
// executor asks DelayBeforeNextRequest whether the window is exhausted and, if
// the provider is configured to honour provider limits, waits for the reset.
package resilientrest

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opengovern/resilient-rest/internal"
)

type RateLimitState struct {
	mu   sync.Mutex
	info RateLimitInfo

	// maxOverride clamps Limit/Remaining when set.
	maxOverride *int
	// window is the assumed window length when the vendor reports an
	// exhausted budget without a reset time.
	window time.Duration
}

func NewRateLimitState() *RateLimitState {
	return &RateLimitState{}
}

// Update merges the known fields of info into the state. Nil fields keep
// their previous value.
func (s *RateLimitState) Update(info *RateLimitInfo) {
	if s == nil || info == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if info.Limit != nil {
		s.info.Limit = intPtr(*info.Limit)
	}
	if info.Remaining != nil {
		s.info.Remaining = intPtr(*info.Remaining)
	}
	if info.Used != nil {
		s.info.Used = intPtr(*info.Used)
	}
	if info.ResetAt != nil {
		reset := *info.ResetAt
		s.info.ResetAt = &reset
	} else if s.window > 0 && s.outLocked() {
		now := time.Now()
		if s.info.ResetAt == nil || !internal.IsInFuture(*s.info.ResetAt, now) {
			reset := now.Add(s.window).UnixMilli()
			s.info.ResetAt = &reset
		}
	}
	s.clampLocked()
}

func (s *RateLimitState) outLocked() bool {
	info := s.info
	if info.Remaining != nil && *info.Remaining <= 0 {
		return true
	}
	return info.Limit != nil && *info.Limit > 0 && info.Used != nil && *info.Used >= *info.Limit
}

func (s *RateLimitState) clampLocked() {
	if s.maxOverride != nil {
		s.info.Limit = intPtr(*s.maxOverride)
		if s.info.Remaining == nil || *s.info.Remaining > *s.maxOverride {
			s.info.Remaining = intPtr(*s.maxOverride)
		}
	}
}

// Snapshot returns a copy of the current info.
func (s *RateLimitState) Snapshot() RateLimitInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out RateLimitInfo
	if s.info.Limit != nil {
		out.Limit = intPtr(*s.info.Limit)
	}
	if s.info.Remaining != nil {
		out.Remaining = intPtr(*s.info.Remaining)
	}
	if s.info.Used != nil {
		out.Used = intPtr(*s.info.Used)
	}
	if s.info.ResetAt != nil {
		reset := *s.info.ResetAt
		out.ResetAt = &reset
	}
	return out
}

// Exhausted reports whether the current window has no budget left and its
// reset time has not passed yet.
func (s *RateLimitState) Exhausted(now time.Time) bool {
	return s.DelayBeforeNextRequest(now) > 0
}

// DelayBeforeNextRequest returns how long to wait for the window to reset,
// or 0 when a request may proceed.
func (s *RateLimitState) DelayBeforeNextRequest(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.info
	if info.ResetAt == nil || !internal.IsInFuture(*info.ResetAt, now) {
		return 0
	}
	if !s.outLocked() {
		return 0
	}
	return time.Duration(*info.ResetAt-now.UnixMilli()) * time.Millisecond
}

// ParseRateLimitHeaders reads the common x-ratelimit-* headers. It returns
// nil when none is present.
func ParseRateLimitHeaders(h http.Header) *RateLimitInfo {
	if h == nil {
		return nil
	}
	parseInt := func(key string) *int {
		if val := h.Get(key); val != "" {
			if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				return &i
			}
		}
		return nil
	}

	info := &RateLimitInfo{
		Limit:     parseInt("X-Ratelimit-Limit"),
		Remaining: parseInt("X-Ratelimit-Remaining"),
		Used:      parseInt("X-Ratelimit-Used"),
	}
	if ms, ok := internal.ParseResetHeader(h.Get("X-Ratelimit-Reset")); ok {
		info.ResetAt = &ms
	}
	if info.Limit == nil && info.Remaining == nil && info.Used == nil && info.ResetAt == nil {
		return nil
	}
	return info
}

func intPtr(i int) *int {
	return &i
}

// SetDefaults seeds the documented budget of a vendor: limit is reported
// until a response says otherwise, and window is assumed as the time to reset
// when a response reports an exhausted budget without a reset time.
func (s *RateLimitState) SetDefaults(limit int, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Limit == nil && limit > 0 {
		s.info.Limit = intPtr(limit)
	}
	s.window = window
	s.clampLocked()
}

// SetMaxOverride clamps the reported limit and remaining budget to max.
// A nil max removes the clamp for later updates.
func (s *RateLimitState) SetMaxOverride(max *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max == nil {
		s.maxOverride = nil
		return
	}
	s.maxOverride = intPtr(*max)
}
