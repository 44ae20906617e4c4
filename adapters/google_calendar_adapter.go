// google_calendar_adapter.go
// --------------------------
// This adapter integrates with the Google Calendar API v3 (calendar list,
// calendars and events).
//
// Key Points:
//   - OAuth2 with a refresh token. Access tokens are refreshed by the token
//     source when they expire and forcibly after a 401.
//   - Google reports quota exhaustion as 403 with reason rateLimitExceeded or
//     userRateLimitExceeded, and sometimes as 429. Both are retried, as are 500
//     and 503.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	resilientrest "github.com/opengovern/resilient-rest"
)

const GoogleCalendarDefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleEndpoint is the Google OAuth2 endpoint.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var ErrNoRefreshToken = errors.New("google: no refresh token configured")

// GoogleCalendarRoutes is the route table of the Calendar API subset in use.
func GoogleCalendarRoutes() resilientrest.RouteTable {
	return resilientrest.RouteTable{
		"calendarList": {
			Endpoint: "/users/me/calendarList",
			Methods: []resilientrest.MethodDef{
				{ID: "list", QueryParams: resilientrest.Params{"maxResults": 250}},
				{ID: "get", Path: "/:calendarId"},
			},
		},
		"calendars": {
			Endpoint:   "/calendars/:calendarId",
			PathParams: resilientrest.Params{"calendarId": "primary"},
			Methods: []resilientrest.MethodDef{
				{ID: "get"},
				{ID: "clear", Method: http.MethodPost, Path: "/clear"},
			},
		},
		"events": {
			Endpoint:   "/calendars/:calendarId/events",
			PathParams: resilientrest.Params{"calendarId": "primary"},
			Methods: []resilientrest.MethodDef{
				{ID: "list", QueryParams: resilientrest.Params{"singleEvents": true, "orderBy": "startTime", "maxResults": 250}},
				{ID: "get", Path: "/:eventId"},
				{ID: "insert", Method: http.MethodPost},
				{ID: "patch", Method: http.MethodPatch, Path: "/:eventId"},
				{ID: "delete", Method: http.MethodDelete, Path: "/:eventId"},
				{ID: "quickAdd", Method: http.MethodPost, Path: "/quickAdd"},
			},
		},
	}
}

type googleErrorBody struct {
	Error struct {
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func googleRateLimited(body []byte) bool {
	var e googleErrorBody
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	for _, r := range e.Error.Errors {
		if r.Reason == "rateLimitExceeded" || r.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

// GoogleClassifier retries quota errors, 500 and 503.
type GoogleClassifier struct{}

func (GoogleClassifier) Classify(spec *resilientrest.RequestSpec, resp *resilientrest.Response, err error, limits *resilientrest.RateLimitState) resilientrest.Outcome {
	if err != nil {
		return resilientrest.DefaultClassifier{}.Classify(spec, resp, err, limits)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return resilientrest.OutcomeRetry
	case http.StatusForbidden:
		if googleRateLimited(resp.Body) {
			return resilientrest.OutcomeRetry
		}
	case http.StatusUnauthorized:
		return resilientrest.OutcomeReauth
	}
	return resilientrest.OutcomeSuccess
}

// GoogleCalendarAdapter holds the OAuth2 state of a Calendar client.
type GoogleCalendarAdapter struct {
	oauth *oauth2.Config
	// tokenHTTP is used for the token endpoint.
	tokenHTTP *http.Client
	client    *resilientrest.Client

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewGoogleCalendarClient builds a Calendar client from OAuth2 app
// credentials and a token holding at least a refresh token. An oauth config
// without a token URL uses GoogleEndpoint.
func NewGoogleCalendarClient(oauth *oauth2.Config, tok *oauth2.Token, cfg *resilientrest.ProviderConfig, opts ...resilientrest.Option) (*GoogleCalendarAdapter, error) {
	if cfg == nil {
		cfg = resilientrest.DefaultProviderConfig("google-calendar", GoogleCalendarDefaultBaseURL)
	}
	if oauth == nil {
		oauth = &oauth2.Config{}
	}
	if oauth.Endpoint.TokenURL == "" {
		oauth.Endpoint = GoogleEndpoint
	}
	a := &GoogleCalendarAdapter{oauth: oauth, tokenHTTP: &http.Client{Timeout: cfg.Timeout}}
	if tok != nil {
		a.src = oauth2.ReuseTokenSource(tok, oauth.TokenSource(a.tokenContext(context.Background()), tok))
	}

	base := []resilientrest.Option{
		resilientrest.WithAuthenticator(resilientrest.BearerFromSource(a)),
		resilientrest.WithReauthenticator(a),
		resilientrest.WithClassifier(GoogleClassifier{}),
	}
	client, err := resilientrest.NewClient(cfg, GoogleCalendarRoutes(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

func (a *GoogleCalendarAdapter) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.tokenHTTP)
}

// Client returns the Calendar API client.
func (a *GoogleCalendarAdapter) Client() *resilientrest.Client { return a.client }

// Token implements oauth2.TokenSource, refreshing an expired access token.
func (a *GoogleCalendarAdapter) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	src := a.src
	a.mu.Unlock()
	if src == nil {
		return nil, ErrNoRefreshToken
	}
	return src.Token()
}

// Reauthenticate discards the current access token and refreshes it.
func (a *GoogleCalendarAdapter) Reauthenticate(ctx context.Context) error {
	cur, err := a.Token()
	if err != nil {
		return err
	}
	if cur.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	tok, err := a.oauth.TokenSource(a.tokenContext(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.src = oauth2.ReuseTokenSource(tok, a.oauth.TokenSource(a.tokenContext(context.Background()), tok))
	a.mu.Unlock()
	return nil
}
