// github_adapter.go
// -----------------
// This adapter integrates with the GitHub REST API (organisations, repositories,
// issues and search).
//
// Key Points:
//   - Rate limits: 5000 requests/hour for a token, reported by x-ratelimit-limit,
//     x-ratelimit-remaining and x-ratelimit-reset on every response.
//   - A 403 with x-ratelimit-remaining 0 is GitHub's primary rate limit signal; 429
//     is its secondary one. Both are retried.
//   - When the window is exhausted the retry waits until x-ratelimit-reset instead
//     of a blind exponential backoff.
//   - CheckRateLimit calls GET /rate_limit, which does not count against the
//     primary limit, to seed the rate limit state before a burst.
package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	resilientrest "github.com/opengovern/resilient-rest"
)

const (
	GitHubDefaultBaseURL     = "https://api.github.com"
	GitHubDefaultMaxRequests = 5000
	GitHubDefaultWindowSecs  = 3600 // 1 hour
)

// GitHubRoutes is the route table of the GitHub REST API subset in use.
func GitHubRoutes() resilientrest.RouteTable {
	return resilientrest.RouteTable{
		"orgs": {
			Endpoint: "/orgs",
			Methods: []resilientrest.MethodDef{
				{ID: "getOrg", Path: "/:org"},
				{ID: "getOrgRepos", Path: "/:org/repos", QueryParams: resilientrest.Params{"per_page": 100}},
			},
		},
		"repos": {
			Endpoint: "/repos/:owner/:repo",
			Methods: []resilientrest.MethodDef{
				{ID: "getRepo"},
				{ID: "getIssues", Path: "/issues", QueryParams: resilientrest.Params{"state": "open", "per_page": 100}},
				{ID: "createIssue", Method: http.MethodPost, Path: "/issues"},
				{ID: "updateIssue", Method: http.MethodPatch, Path: "/issues/:issue_number"},
				{ID: "createComment", Method: http.MethodPost, Path: "/issues/:issue_number/comments"},
				{ID: "getMilestones", Path: "/milestones"},
			},
		},
		"search": {
			Endpoint: "/search",
			Methods: []resilientrest.MethodDef{
				{ID: "searchIssues", Path: "/issues"},
			},
		},
		"rateLimit": {
			Endpoint: "/rate_limit",
			Methods:  []resilientrest.MethodDef{{ID: "get"}},
		},
	}
}

// GitHubClassifier retries GitHub's primary and secondary rate limits and
// transient transport errors.
type GitHubClassifier struct{}

func (GitHubClassifier) Classify(spec *resilientrest.RequestSpec, resp *resilientrest.Response, err error, limits *resilientrest.RateLimitState) resilientrest.Outcome {
	if err != nil {
		if resilientrest.IsRetryableNetworkError(err) {
			return resilientrest.OutcomeRetry
		}
		return resilientrest.OutcomeFatal
	}
	info := resilientrest.ParseRateLimitHeaders(resp.Headers)
	limits.Update(info)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilientrest.OutcomeRetry
	case resp.StatusCode == http.StatusForbidden && info != nil && info.Remaining != nil && *info.Remaining <= 0:
		return resilientrest.OutcomeRetry
	case resp.StatusCode == http.StatusUnauthorized:
		return resilientrest.OutcomeReauth
	}
	return resilientrest.OutcomeSuccess
}

// ResetBackoff waits for the reset of an exhausted window, and otherwise
// falls back to Fallback.
type ResetBackoff struct {
	Limits   *resilientrest.RateLimitState
	Fallback resilientrest.BackoffPolicy
	// Jitter is added to a reset wait. It may be nil.
	Jitter func() time.Duration
	now    func() time.Time
}

func (b ResetBackoff) RetryWait(spec *resilientrest.RequestSpec, resp *resilientrest.Response, state resilientrest.RetryState) time.Duration {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	if d := b.Limits.DelayBeforeNextRequest(now()); d > 0 {
		if b.Jitter != nil {
			d += b.Jitter()
		}
		return d
	}
	return b.Fallback.RetryWait(spec, resp, state)
}

// NewGitHubClient returns a client for the GitHub API authenticated with a
// personal access or app installation token.
func NewGitHubClient(token string, cfg *resilientrest.ProviderConfig, opts ...resilientrest.Option) (*resilientrest.Client, error) {
	if cfg == nil {
		cfg = resilientrest.DefaultProviderConfig("github", GitHubDefaultBaseURL)
	}
	limits := resilientrest.NewRateLimitState()
	limits.SetDefaults(GitHubDefaultMaxRequests, GitHubDefaultWindowSecs*time.Second)
	base := []resilientrest.Option{
		resilientrest.WithAuthenticator(resilientrest.Bearer(token)),
		resilientrest.WithClassifier(GitHubClassifier{}),
		resilientrest.WithRateLimitState(limits),
		resilientrest.WithBackoff(ResetBackoff{
			Limits:   limits,
			Fallback: resilientrest.ExponentialBackoff{Base: cfg.Retry.BaseWait, Max: cfg.Retry.MaxWait},
		}),
	}
	return resilientrest.NewClient(cfg, GitHubRoutes(), append(base, opts...)...)
}

type gitHubResourceLimit struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

type gitHubRateLimitResponse struct {
	Resources struct {
		Core    gitHubResourceLimit `json:"core"`
		GraphQL gitHubResourceLimit `json:"graphql"`
	} `json:"resources"`
	Rate gitHubResourceLimit `json:"rate"`
}

// CheckRateLimit fetches GET /rate_limit and records the core limits into
// the client rate limit state.
func CheckRateLimit(ctx context.Context, c *resilientrest.Client) (resilientrest.RateLimitInfo, error) {
	resp, err := c.Call(ctx, "rateLimit", "get", nil)
	if err != nil {
		return resilientrest.RateLimitInfo{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return resilientrest.RateLimitInfo{}, fmt.Errorf("GET /rate_limit returned %d: %s", resp.StatusCode, resp.Text())
	}

	var r gitHubRateLimitResponse
	if err := resp.DecodeJSON(&r); err != nil {
		return resilientrest.RateLimitInfo{}, err
	}
	core := r.Resources.Core
	reset := core.Reset * 1000
	info := resilientrest.RateLimitInfo{
		Limit:     &core.Limit,
		Remaining: &core.Remaining,
		Used:      &core.Used,
		ResetAt:   &reset,
	}
	c.RateLimits().Update(&info)
	return c.RateLimits().Snapshot(), nil
}
