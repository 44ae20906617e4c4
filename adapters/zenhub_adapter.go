// zenhub_adapter.go
// -----------------
// This adapter integrates with the ZenHub API (boards, issues and epics of a
// GitHub repository).
//
// Key Points:
//   - Authentication is the X-Authentication-Token header.
//   - Rate limits: 100 requests/minute, reported as x-ratelimit-limit,
//     x-ratelimit-used and x-ratelimit-reset (unix seconds).
//   - A response with used > limit is a rate limit hit and is retried after the
//     reset, plus a random delay of up to 10s so the window has really rolled over.
//   - 408 and 502 are transient timeouts of the service and are retried, as are
//     transport errors of any kind.
//   - retry-after, when present, pushes the reset time further out.
package adapters

import (
	"math/rand/v2"
	"net/http"
	"time"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/internal"
)

const (
	ZenHubDefaultBaseURL     = "https://api.zenhub.com/p1"
	ZenHubDefaultMaxRequests = 100
	ZenHubDefaultWindowSecs  = 60
	ZenHubResetJitter        = 10 * time.Second
)

// ZenHubRoutes is the route table of the ZenHub API.
func ZenHubRoutes() resilientrest.RouteTable {
	return resilientrest.RouteTable{
		"repositories": {
			Endpoint: "/repositories/:repo_id",
			Methods: []resilientrest.MethodDef{
				{ID: "getIssues", Path: "/issues"},
				{ID: "getIssue", Path: "/issues/:issue_number"},
				{ID: "moveIssue", Method: http.MethodPost, Path: "/issues/:issue_number/moves"},
				{ID: "getEpics", Path: "/epics"},
				{ID: "getEpic", Path: "/epics/:epic_id"},
				{ID: "updateEpicIssues", Method: http.MethodPost, Path: "/epics/:epic_id/update_issues"},
				{ID: "convertToEpic", Method: http.MethodPost, Path: "/issues/:issue_number/convert_to_epic"},
				{ID: "convertToIssue", Method: http.MethodPost, Path: "/epics/:epic_id/convert_to_issue"},
				{ID: "getBoard", Path: "/board"},
			},
		},
	}
}

// ParseZenHubRateLimit reads the limit/used/reset headers. A retry-after
// value moves the reset later when it points further out.
func ParseZenHubRateLimit(h http.Header, now time.Time) *resilientrest.RateLimitInfo {
	info := resilientrest.ParseRateLimitHeaders(h)
	if d := internal.ParseRetryAfter(h.Get("Retry-After"), now); d > 0 {
		future := now.Add(d).UnixMilli()
		if info == nil {
			info = &resilientrest.RateLimitInfo{}
		}
		if info.ResetAt == nil || future > *info.ResetAt {
			info.ResetAt = &future
		}
	}
	return info
}

// ZenHubClassifier retries every transport error, 408, 502 and responses
// that report more requests used than the limit allows.
type ZenHubClassifier struct{}

func (ZenHubClassifier) Classify(spec *resilientrest.RequestSpec, resp *resilientrest.Response, err error, limits *resilientrest.RateLimitState) resilientrest.Outcome {
	if err != nil {
		return resilientrest.OutcomeRetry
	}
	info := ParseZenHubRateLimit(resp.Headers, time.Now())
	limits.Update(info)

	if info != nil && info.Limit != nil && info.Used != nil && *info.Used > *info.Limit {
		return resilientrest.OutcomeRetry
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusTooManyRequests:
		return resilientrest.OutcomeRetry
	case http.StatusUnauthorized:
		return resilientrest.OutcomeReauth
	}
	return resilientrest.OutcomeSuccess
}

func zenHubJitter() time.Duration {
	return rand.N(ZenHubResetJitter)
}

// NewZenHubClient returns a client for the ZenHub API.
func NewZenHubClient(token string, cfg *resilientrest.ProviderConfig, opts ...resilientrest.Option) (*resilientrest.Client, error) {
	if cfg == nil {
		cfg = resilientrest.DefaultProviderConfig("zenhub", ZenHubDefaultBaseURL)
	}
	limits := resilientrest.NewRateLimitState()
	limits.SetDefaults(ZenHubDefaultMaxRequests, ZenHubDefaultWindowSecs*time.Second)
	base := []resilientrest.Option{
		resilientrest.WithAuthenticator(resilientrest.HeaderToken("X-Authentication-Token", token)),
		resilientrest.WithClassifier(ZenHubClassifier{}),
		resilientrest.WithRateLimitState(limits),
		resilientrest.WithBackoff(ResetBackoff{
			Limits:   limits,
			Fallback: resilientrest.ExponentialBackoff{Base: cfg.Retry.BaseWait, Max: cfg.Retry.MaxWait},
			Jitter:   zenHubJitter,
		}),
	}
	return resilientrest.NewClient(cfg, ZenHubRoutes(), append(base, opts...)...)
}
