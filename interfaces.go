package resilientrest

import (
	"context"
	"time"
)

// Authenticator injects credentials into a request before it is sent. It
// returns a configuration error when no credential is available for a
// request that is not anonymous.
type Authenticator interface {
	Authenticate(ctx context.Context, spec *RequestSpec, call *CallRequest) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, spec *RequestSpec, call *CallRequest) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, spec *RequestSpec, call *CallRequest) error {
	return f(ctx, spec, call)
}

// Outcome is the classification of one attempt.
type Outcome int

const (
	// OutcomeSuccess ends the call with the response, whatever its status.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry is a transient failure, retried within the retry budget.
	OutcomeRetry
	// OutcomeReauth means the credentials expired: re-authenticate once, then retry.
	OutcomeReauth
	// OutcomeFatal ends the call with an error.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeReauth:
		return "reauth"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// ResponseClassifier inspects an attempt and decides what happens next.
// Exactly one of resp and err is non-nil. Classifiers record vendor rate
// limit headers into limits.
type ResponseClassifier interface {
	Classify(spec *RequestSpec, resp *Response, err error, limits *RateLimitState) Outcome
}

// ClassifierFunc adapts a function to ResponseClassifier.
type ClassifierFunc func(spec *RequestSpec, resp *Response, err error, limits *RateLimitState) Outcome

func (f ClassifierFunc) Classify(spec *RequestSpec, resp *Response, err error, limits *RateLimitState) Outcome {
	return f(spec, resp, err, limits)
}

// RetryState is attached to one logical call from its first retryable
// outcome until it ends. Attempt is the zero-based index of the retry being
// scheduled; Attempt+1 requests have been sent by then and Attempt never
// reaches Limit.
type RetryState struct {
	Attempt int
	Wait    time.Duration
	Limit   int
}

// BackoffPolicy computes the wait before the next attempt.
type BackoffPolicy interface {
	RetryWait(spec *RequestSpec, resp *Response, state RetryState) time.Duration
}

// BackoffFunc adapts a function to BackoffPolicy.
type BackoffFunc func(spec *RequestSpec, resp *Response, state RetryState) time.Duration

func (f BackoffFunc) RetryWait(spec *RequestSpec, resp *Response, state RetryState) time.Duration {
	return f(spec, resp, state)
}

// Reauthenticator renews credentials after a 401.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// ReauthenticatorFunc adapts a function to Reauthenticator.
type ReauthenticatorFunc func(ctx context.Context) error

func (f ReauthenticatorFunc) Reauthenticate(ctx context.Context) error {
	return f(ctx)
}
