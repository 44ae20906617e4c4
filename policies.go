package resilientrest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/opengovern/resilient-rest/internal"
)

// TokenAuthenticator puts an access token into a request header.
type TokenAuthenticator struct {
	// Header defaults to Authorization.
	Header string
	// Scheme prefixes the token ("Bearer"). When empty the token type of the
	// source is used for Authorization and nothing for other headers.
	Scheme string
	Source oauth2.TokenSource
}

// Bearer returns an authenticator sending a static bearer token.
func Bearer(token string) *TokenAuthenticator {
	return &TokenAuthenticator{Source: staticSource(token)}
}

// BearerFromSource returns an authenticator backed by an oauth2 token source.
func BearerFromSource(ts oauth2.TokenSource) *TokenAuthenticator {
	return &TokenAuthenticator{Source: ts}
}

// HeaderToken returns an authenticator sending token as-is in header.
func HeaderToken(header, token string) *TokenAuthenticator {
	return &TokenAuthenticator{Header: header, Source: staticSource(token)}
}

func staticSource(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, spec *RequestSpec, _ *CallRequest) error {
	if spec.Anonymous {
		return nil
	}
	if a.Source == nil {
		return configError("%s: no access token available", spec.Operation)
	}
	tok, err := a.Source.Token()
	if err != nil {
		return &Error{Kind: KindConfiguration, Op: spec.Operation, Err: fmt.Errorf("obtain access token: %w", err)}
	}
	if tok == nil || tok.AccessToken == "" {
		return configError("%s: no access token available", spec.Operation)
	}

	header := a.Header
	if header == "" {
		header = "Authorization"
	}
	value := tok.AccessToken
	switch {
	case a.Scheme != "":
		value = a.Scheme + " " + tok.AccessToken
	case header == "Authorization":
		value = tok.Type() + " " + tok.AccessToken
	}
	spec.Header.Set(header, value)
	return nil
}

// DefaultClassifier retries 429 responses and connection level failures,
// asks for re-authentication on 401 and records x-ratelimit-* headers.
// Every other response, whatever its status, ends the call.
type DefaultClassifier struct{}

func (DefaultClassifier) Classify(_ *RequestSpec, resp *Response, err error, limits *RateLimitState) Outcome {
	if err != nil {
		if IsRetryableNetworkError(err) {
			return OutcomeRetry
		}
		return OutcomeFatal
	}
	limits.Update(ParseRateLimitHeaders(resp.Headers))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return OutcomeRetry
	case http.StatusUnauthorized:
		return OutcomeReauth
	}
	return OutcomeSuccess
}

// IsRetryableNetworkError reports whether err is a transient transport
// failure: connection reset, refused or aborted, or a timeout.
func IsRetryableNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ExponentialBackoff waits min(Base * 2^attempt, Max). When a response
// carries Retry-After, the signalled delay replaces Base.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) RetryWait(_ *RequestSpec, resp *Response, state RetryState) time.Duration {
	base := b.Base
	if resp != nil {
		if ra := internal.ParseRetryAfter(resp.Headers.Get("Retry-After"), time.Now()); ra > 0 {
			base = ra
		}
	}
	return Exponential(base, b.Max, state.Attempt)
}

// Exponential returns min(initial * 2^attempt, max). A non-positive max
// means no cap.
func Exponential(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	limit := max
	if limit <= 0 {
		limit = time.Duration(1<<63 - 1)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = limit
	eb.MaxElapsedTime = 0
	eb.Reset()

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = eb.NextBackOff()
		if d >= limit {
			break
		}
	}
	if d > limit {
		d = limit
	}
	return d
}
