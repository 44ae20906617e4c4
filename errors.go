package resilientrest

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced by a client.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration: missing credential, malformed route table. Never retried.
	KindConfiguration
	// KindNetwork: connection reset/refused/aborted, timeouts and other transport failures.
	KindNetwork
	// KindRateLimit: HTTP 429 or a vendor quota signal.
	KindRateLimit
	// KindAuthExpired: HTTP 401 that re-authentication could not fix.
	KindAuthExpired
	// KindResponseParse: the body is not in the expected encoding. Never retried.
	KindResponseParse
	// KindUpstream: any other response a classifier treated as a failure.
	KindUpstream
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNetwork       = errors.New("network error")
	ErrRateLimited   = errors.New("rate limited")
	ErrAuthExpired   = errors.New("authentication expired")
	ErrResponseParse = errors.New("response parse error")
	ErrUpstream      = errors.New("upstream failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindNetwork:
		return ErrNetwork
	case KindRateLimit:
		return ErrRateLimited
	case KindAuthExpired:
		return ErrAuthExpired
	case KindResponseParse:
		return ErrResponseParse
	case KindUpstream:
		return ErrUpstream
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// Error is the terminal failure of a logical call.
type Error struct {
	Kind Kind
	// Op is "resource.method" when the failure belongs to a compiled operation.
	Op         string
	StatusCode int
	// Attempts is the number of requests sent for the logical call.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func configError(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}
