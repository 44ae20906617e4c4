// Package mock is a scriptable vendor API server for tests and local
// benchmarks.
//
// Requests are answered from a FIFO script of replies; once the script is
// exhausted the Fallback reply is used. Independently, the server can play a
// vendor rate limit: after RequestsUntilRateLimit requests (or always, with
// ShouldReturn429Always) it answers 429 with x-ratelimit-* headers.
package mock

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

const (
	MockDefaultMaxRequests = 100
	MockDefaultWindowSecs  = 60
)

// Reply is one scripted answer.
type Reply struct {
	Status  int
	Headers map[string]string
	Body    []byte
	// Delay is waited before answering.
	Delay time.Duration
	// Reset drops the connection without a response.
	Reset bool
}

// JSON returns a reply with a JSON body.
func JSON(status int, body string) Reply {
	return Reply{Status: status, Headers: map[string]string{"Content-Type": "application/json"}, Body: []byte(body)}
}

// Status returns an empty reply with status.
func Status(status int) Reply {
	return Reply{Status: status}
}

// TooManyRequests returns a 429 reply with a Retry-After header when
// retryAfter is not empty.
func TooManyRequests(retryAfter string) Reply {
	r := JSON(http.StatusTooManyRequests, `{"error":"Rate limited"}`)
	if retryAfter != "" {
		r.Headers["Retry-After"] = retryAfter
	}
	return r
}

// ConnectionReset returns a reply that drops the connection.
func ConnectionReset() Reply {
	return Reply{Reset: true}
}

// Request is a received request.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Server is a scripted HTTP server.
type Server struct {
	*httptest.Server

	// RequestsUntilRateLimit answers 429 once more requests than this were
	// received in the current window. Zero disables the budget.
	RequestsUntilRateLimit int
	ShouldReturn429Always  bool
	MaxRequests            int
	WindowSecs             int64

	mu          sync.Mutex
	script      []Reply
	fallback    Reply
	requests    []Request
	windowStart time.Time
	count       int
}

// NewServer starts a server answering 200 {"success":true} by default.
func NewServer() *Server {
	s := &Server{
		MaxRequests: MockDefaultMaxRequests,
		WindowSecs:  MockDefaultWindowSecs,
		fallback:    JSON(http.StatusOK, `{"success":true}`),
		windowStart: time.Now(),
	}
	// One connection per request, so a dropped connection is never
	// mistaken for a stale keep-alive and replayed by the client transport.
	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(s.handle))
	s.Server.Config.SetKeepAlivesEnabled(false)
	s.Server.Start()
	return s
}

// Script appends replies to the script.
func (s *Server) Script(replies ...Reply) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, replies...)
	return s
}

// Fallback sets the reply used once the script is exhausted.
func (s *Server) Fallback(r Reply) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
	return s
}

// LimitAfter answers 429 after n requests per window, reporting max as the
// vendor limit. A max of 0 keeps the current one.
func (s *Server) LimitAfter(n, max int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RequestsUntilRateLimit = n
	if max > 0 {
		s.MaxRequests = max
	}
	return s
}

// Requests returns the received requests in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns the number of received requests.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	reply, limited := s.nextLocked()
	s.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if reply.Reset {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}

	for k, v := range limited {
		w.Header().Set(k, v)
	}
	for k, v := range reply.Headers {
		w.Header().Set(k, v)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}

// nextLocked picks the reply for the current request and the rate limit
// headers to send with it.
func (s *Server) nextLocked() (Reply, map[string]string) {
	now := time.Now()
	window := time.Duration(s.WindowSecs) * time.Second
	if now.Sub(s.windowStart) >= window {
		s.windowStart = now
		s.count = 0
	}
	s.count++

	budget := s.RequestsUntilRateLimit > 0 || s.ShouldReturn429Always
	var headers map[string]string
	if budget {
		remaining := s.MaxRequests - s.count
		if s.RequestsUntilRateLimit > 0 {
			remaining = s.RequestsUntilRateLimit - s.count
		}
		if remaining < 0 || s.ShouldReturn429Always {
			remaining = 0
		}
		headers = map[string]string{
			"X-Ratelimit-Limit":     strconv.Itoa(s.MaxRequests),
			"X-Ratelimit-Remaining": strconv.Itoa(remaining),
			"X-Ratelimit-Reset":     strconv.FormatInt(s.windowStart.Add(window).Unix(), 10),
		}
		if s.ShouldReturn429Always || (s.RequestsUntilRateLimit > 0 && s.count > s.RequestsUntilRateLimit) {
			return TooManyRequests(""), headers
		}
	}

	if len(s.script) > 0 {
		r := s.script[0]
		s.script = s.script[1:]
		return r, headers
	}
	return s.fallback, headers
}
