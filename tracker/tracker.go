// Package tracker records one immutable entry per dispatched HTTP attempt:
// the request, the response or transport error, and timing.
//
// Entries are appended when an attempt completes, so the log is in
// completion order. The log only grows until Reset.
package tracker

import (
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// DefaultRedactedHeaders are masked in request snapshots.
var DefaultRedactedHeaders = []string{"Authorization", "X-Authentication-Token", "Cookie", "Proxy-Authorization"}

// DefaultRedactedParams are masked in form and JSON request bodies.
var DefaultRedactedParams = []string{"client_secret", "assertion", "client_assertion", "refresh_token", "access_token", "code", "password"}

const redacted = "[REDACTED]"

// RequestSnapshot is the request side of an entry.
type RequestSnapshot struct {
	Operation string      `json:"operation,omitempty"`
	Attempt   int         `json:"attempt"`
	Method    string      `json:"method"`
	URL       string      `json:"uri"`
	Headers   http.Header `json:"headers,omitempty"`
	Body      string      `json:"body,omitempty"`
}

// ResponseSnapshot is the response side of an entry.
type ResponseSnapshot struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	// Body is empty for binary responses; BodySize is always set.
	Body     string `json:"body,omitempty"`
	BodySize int    `json:"body_size"`
	Binary   bool   `json:"binary,omitempty"`
}

// ErrorSnapshot describes a transport failure.
type ErrorSnapshot struct {
	Code    string `json:"error_code,omitempty"`
	Errno   int    `json:"error_no,omitempty"`
	Message string `json:"error_message"`
}

// Entry is one attempt. Response and Error are mutually exclusive.
type Entry struct {
	ID        string            `json:"id"`
	Request   RequestSnapshot   `json:"request"`
	Response  *ResponseSnapshot `json:"response"`
	Error     *ErrorSnapshot    `json:"response_error,omitempty"`
	StartTime time.Time         `json:"start_time"`
	StopTime  time.Time         `json:"stop_time"`
	// Duration is StopTime - StartTime, never negative.
	Duration time.Duration `json:"-"`
	// DurationMs mirrors Duration for exports.
	DurationMs int64 `json:"duration"`
}

// Tracker is the per-client ordered log. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	entries  []Entry
	redact   map[string]bool
	params   map[string]bool
	now      func() time.Time
	onRecord func(Entry)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRedactedHeaders replaces the set of masked request headers.
func WithRedactedHeaders(headers ...string) Option {
	return func(t *Tracker) {
		t.redact = make(map[string]bool, len(headers))
		for _, h := range headers {
			t.redact[http.CanonicalHeaderKey(h)] = true
		}
	}
}

// WithRedactedParams replaces the set of masked top level body parameters.
func WithRedactedParams(names ...string) Option {
	return func(t *Tracker) {
		t.params = make(map[string]bool, len(names))
		for _, n := range names {
			t.params[n] = true
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithOnRecord registers a callback invoked with each finalized entry,
// outside the tracker lock.
func WithOnRecord(fn func(Entry)) Option {
	return func(t *Tracker) { t.onRecord = fn }
}

func New(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	WithRedactedHeaders(DefaultRedactedHeaders...)(t)
	WithRedactedParams(DefaultRedactedParams...)(t)
	for _, o := range opts {
		o(t)
	}
	return t
}

// Recording is an attempt in flight. Stop finalizes it exactly once.
type Recording struct {
	t       *Tracker
	entry   Entry
	once    sync.Once
	stopped Entry
}

// Start captures the request and the start time.
func (t *Tracker) Start(req RequestSnapshot) *Recording {
	req.Body = t.redactBody(req.Headers.Get("Content-Type"), req.Body)
	req.Headers = t.redactHeaders(req.Headers)
	return &Recording{
		t: t,
		entry: Entry{
			ID:        uuid.NewString(),
			Request:   req,
			StartTime: t.now(),
		},
	}
}

// Stop captures the outcome and the stop time, appends the entry to the log
// and returns it. Calls after the first return the same entry.
func (r *Recording) Stop(resp *ResponseSnapshot, err error) Entry {
	r.once.Do(func() {
		e := r.entry
		e.StopTime = r.t.now()
		if e.StopTime.Before(e.StartTime) {
			e.StopTime = e.StartTime
		}
		e.Duration = e.StopTime.Sub(e.StartTime)
		e.DurationMs = e.Duration.Milliseconds()
		if err != nil {
			e.Error = SnapshotError(err)
		} else if resp != nil {
			snap := *resp
			snap.Headers = resp.Headers.Clone()
			e.Response = &snap
		}
		r.stopped = e
		r.t.append(e)
	})
	return r.stopped.clone()
}

func (t *Tracker) append(e Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	cb := t.onRecord
	t.mu.Unlock()
	if cb != nil {
		cb(e.clone())
	}
}

// clone returns a copy of e that shares no maps or pointers with it.
func (e Entry) clone() Entry {
	out := e
	out.Request.Headers = e.Request.Headers.Clone()
	if e.Response != nil {
		resp := *e.Response
		resp.Headers = e.Response.Headers.Clone()
		out.Response = &resp
	}
	if e.Error != nil {
		errSnap := *e.Error
		out.Error = &errSnap
	}
	return out
}

// Log returns a copy of the entries in completion order. Changing the
// returned entries does not affect the log.
func (t *Tracker) Log() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of recorded entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset clears the log. Attempts still in flight are appended when they stop.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

func (t *Tracker) redactHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()
	for k := range out {
		if t.redact[http.CanonicalHeaderKey(k)] {
			out[k] = []string{redacted}
		}
	}
	return out
}

// redactBody masks secret parameters of a form or JSON object body. Other
// bodies are returned unchanged.
func (t *Tracker) redactBody(contentType, body string) string {
	if body == "" || len(t.params) == 0 {
		return body
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(body)
		if err != nil {
			return body
		}
		changed := false
		for k := range values {
			if t.params[k] {
				values[k] = []string{redacted}
				changed = true
			}
		}
		if !changed {
			return body
		}
		return values.Encode()

	case "application/json":
		var obj map[string]json.RawMessage
		if json.Unmarshal([]byte(body), &obj) != nil {
			return body
		}
		changed := false
		for k := range obj {
			if t.params[k] {
				obj[k] = json.RawMessage(`"` + redacted + `"`)
				changed = true
			}
		}
		if !changed {
			return body
		}
		out, err := json.Marshal(obj)
		if err != nil {
			return body
		}
		return string(out)
	}
	return body
}

var errnoNames = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNABORTED: "ECONNABORTED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EPIPE:        "EPIPE",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
	syscall.ENETUNREACH:  "ENETUNREACH",
}

// SnapshotError converts a transport error into its code, errno and message.
func SnapshotError(err error) *ErrorSnapshot {
	if err == nil {
		return nil
	}
	snap := &ErrorSnapshot{Message: err.Error()}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		snap.Errno = int(errno)
		snap.Code = errnoNames[errno]
		if snap.Code == "" {
			snap.Code = "ERRNO_" + errno.Error()
		}
		return snap
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		snap.Code = "ETIMEDOUT"
		return snap
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		snap.Code = "ENOTFOUND"
	}
	return snap
}
