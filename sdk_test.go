package resilientrest

import (
	"context"
	"net/http"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengovern/resilient-rest/mock"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil, testRoutes())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewClient(&ProviderConfig{}, testRoutes())
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg := DefaultProviderConfig("bad", "ftp://example.com")
	_, err = NewClient(cfg, testRoutes())
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultProviderConfig("bad", "https://example.com")
	cfg.Retry.Limit = 0
	_, err = NewClient(cfg, testRoutes())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewClient(DefaultProviderConfig("empty", "https://example.com"), RouteTable{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestClientRetryDisabled(t *testing.T) {
	srv := mock.NewServer().Fallback(mock.TooManyRequests(""))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.Enabled = false
	c, err := NewClient(cfg, testRoutes(), WithAuthenticator(Bearer("secret")))
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "items", "list", nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, srv.Count())
}

func TestClientRequestsPerSecond(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 2
	c, err := NewClient(cfg, testRoutes())
	require.NoError(t, err)
	require.NotNil(t, c.executor.limiter)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "items", "list", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, srv.Count())
}

func TestClientDo(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	c := newTestClient(t, srv)

	resp, err := c.Do(context.Background(), &RequestSpec{
		Operation: "token.refresh",
		Method:    http.MethodPost,
		URL:       srv.URL + "/oauth2/token",
		Body:      []byte("grant_type=refresh_token"),
		Anonymous: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := srv.Requests()[0]
	assert.Equal(t, "/oauth2/token", req.Path)
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, "grant_type=refresh_token", string(req.Body))
}

func TestResilientBridge(t *testing.T) {
	gh := mock.NewServer()
	defer gh.Close()
	zen := mock.NewServer()
	defer zen.Close()

	sdk := NewResilientBridge(hclog.NewNullLogger())
	defer sdk.Close()

	_, err := sdk.RegisterProvider(testConfig(gh.URL), testRoutes(), WithAuthenticator(Bearer("a")))
	require.NoError(t, err)
	zenCfg := testConfig(zen.URL)
	zenCfg.Name = "zenhub"
	_, err = sdk.RegisterProvider(zenCfg, testRoutes(), WithAuthenticator(HeaderToken("X-Authentication-Token", "b")))
	require.NoError(t, err)

	assert.Equal(t, []string{"test", "zenhub"}, sdk.Providers())

	_, err = sdk.Request(context.Background(), "zenhub", "items", "list", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, gh.Count())
	assert.Equal(t, 1, zen.Count())
	assert.Equal(t, "b", zen.Requests()[0].Header.Get("X-Authentication-Token"))

	data := sdk.TrackingData()
	assert.Len(t, data["zenhub"], 1)
	assert.Empty(t, data["test"])

	_, err = sdk.Request(context.Background(), "jira", "items", "list", nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = sdk.GetRateLimitInfo("jira")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBridgeTracksVendorLimits(t *testing.T) {
	srv := mock.NewServer().LimitAfter(10, 0)
	defer srv.Close()

	sdk := NewResilientBridge(nil)
	_, err := sdk.RegisterProvider(testConfig(srv.URL), testRoutes())
	require.NoError(t, err)

	_, err = sdk.Request(context.Background(), "test", "items", "list", nil)
	require.NoError(t, err)

	info, err := sdk.GetRateLimitInfo("test")
	require.NoError(t, err)
	require.NotNil(t, info.Remaining)
	assert.Equal(t, 9, *info.Remaining)
	require.NotNil(t, info.ResetAt)
}

func TestBridgeRegisterReplacesClient(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()

	sdk := NewResilientBridge(nil)
	defer sdk.Close()

	first := newTestClient(t, srv)
	second := newTestClient(t, srv)
	sdk.Register(first)
	sdk.Register(second)

	got, ok := sdk.Provider("test")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"test"}, sdk.Providers())

	_, err := sdk.Request(context.Background(), "test", "items", "list", nil)
	require.NoError(t, err)
	assert.Len(t, sdk.TrackingData()["test"], 1)
}
