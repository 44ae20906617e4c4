package resilientrest

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/opengovern/resilient-rest/tracker"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	auth        Authenticator
	classifier  ResponseClassifier
	backoff     BackoffPolicy
	reauth      Reauthenticator
	httpClient  *http.Client
	logger      hclog.Logger
	tracker     *tracker.Tracker
	limits      *RateLimitState
	reauthDelay time.Duration
}

// WithAuthenticator sets the credential injection strategy.
func WithAuthenticator(a Authenticator) Option {
	return func(o *clientOptions) { o.auth = a }
}

// WithClassifier sets the response classification strategy.
func WithClassifier(c ResponseClassifier) Option {
	return func(o *clientOptions) { o.classifier = c }
}

// WithBackoff sets the retry wait strategy. The default is an
// ExponentialBackoff built from the provider retry config.
func WithBackoff(b BackoffPolicy) Option {
	return func(o *clientOptions) { o.backoff = b }
}

// WithReauthenticator sets the action run once per call on a 401.
// Without one, a 401 ends the call as ErrAuthExpired.
func WithReauthenticator(r Reauthenticator) Option {
	return func(o *clientOptions) { o.reauth = r }
}

// WithHTTPClient sets the underlying client. Its CheckRedirect is replaced
// so that redirects are never followed.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithTracker records attempts into t instead of a private tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(o *clientOptions) { o.tracker = t }
}

// WithRateLimitState shares a rate limit state between clients of the same vendor account.
func WithRateLimitState(s *RateLimitState) Option {
	return func(o *clientOptions) { o.limits = s }
}

// WithReauthDelay sets the fixed delay before the retry that follows a
// re-authentication. Default 10ms.
func WithReauthDelay(d time.Duration) Option {
	return func(o *clientOptions) { o.reauthDelay = d }
}
