// sdk.go
// ------
// The sdk.go file contains the Client, the entry point for one vendor API,
// and the ResilientBridge, a registry of clients keyed by provider name.
//
// A Client owns everything that is per vendor account: the compiled API, the
// HTTP transport, the request tracker and the rate limit state. Calls made
// through its API go through the RequestExecutor, which applies the client's
// authentication, classification and backoff strategies.
package resilientrest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/opengovern/resilient-rest/tracker"
)

// Client is a compiled vendor API bound to a resilient executor.
type Client struct {
	config   ProviderConfig
	api      *API
	executor *RequestExecutor
	tracker  *tracker.Tracker
	limits   *RateLimitState
	logger   hclog.Logger
}

// NewClient validates cfg, compiles table against cfg.BaseURL and returns a
// client whose operations run through the resilience engine.
func NewClient(cfg *ProviderConfig, table RouteTable, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, configError("provider config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{reauthDelay: defaultReauthDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}
	if o.classifier == nil {
		o.classifier = DefaultClassifier{}
	}
	if o.backoff == nil {
		o.backoff = ExponentialBackoff{Base: cfg.Retry.BaseWait, Max: cfg.Retry.MaxWait}
	}
	if o.tracker == nil {
		o.tracker = tracker.New()
	}
	if o.limits == nil {
		o.limits = NewRateLimitState()
	}
	if cfg.MaxRequestsOverride != nil {
		o.limits.SetMaxOverride(cfg.MaxRequestsOverride)
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	if o.httpClient != nil {
		copied := *o.httpClient
		hc = &copied
		if hc.Timeout == 0 {
			hc.Timeout = cfg.Timeout
		}
	}
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	c := &Client{
		config:  *cfg,
		tracker: o.tracker,
		limits:  o.limits,
		logger:  o.logger.Named(cfg.Name),
	}
	c.executor = &RequestExecutor{
		provider:          cfg.Name,
		httpClient:        hc,
		auth:              o.auth,
		classifier:        o.classifier,
		backoff:           o.backoff,
		reauth:            o.reauth,
		retry:             cfg.Retry,
		useProviderLimits: cfg.UseProviderLimits,
		limits:            o.limits,
		tracker:           o.tracker,
		reauthDelay:       o.reauthDelay,
		logger:            c.logger.Named("engine"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.executor.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	api, err := Compile(cfg.BaseURL, table, c)
	if err != nil {
		return nil, err
	}
	c.api = api

	c.logger.Debug("client ready", "config", cfg.String(), "resources", len(table))
	return c, nil
}

// API returns the compiled call surface.
func (c *Client) API() *API { return c.api }

// Name returns the provider name.
func (c *Client) Name() string { return c.config.Name }

// Config returns a copy of the provider configuration.
func (c *Client) Config() ProviderConfig { return c.config }

// Tracker returns the request log of the client.
func (c *Client) Tracker() *tracker.Tracker { return c.tracker }

// RateLimits returns the rate limit state updated by the classifier.
func (c *Client) RateLimits() *RateLimitState { return c.limits }

// Call invokes the operation (resource, id).
func (c *Client) Call(ctx context.Context, resource, id string, call *CallRequest) (*Response, error) {
	return c.api.Call(ctx, resource, id, call)
}

// Invoke implements Invoker for the compiled operations of the client.
func (c *Client) Invoke(ctx context.Context, op *Operation, spec *RequestSpec, call *CallRequest) (*Response, error) {
	return c.executor.ExecuteWithRetry(ctx, spec, call)
}

// Do runs an already dispatched request through the engine. It is how
// adapters reach endpoints that are not part of the route table, such as
// token servers.
func (c *Client) Do(ctx context.Context, spec *RequestSpec) (*Response, error) {
	if spec == nil {
		return nil, configError("request is required")
	}
	if spec.Header == nil {
		spec.Header = http.Header{}
	}
	return c.executor.ExecuteWithRetry(ctx, spec, nil)
}

// Close releases idle connections of the transport.
func (c *Client) Close() {
	c.executor.httpClient.CloseIdleConnections()
}

// ResilientBridge is a registry of clients, one per provider.
type ResilientBridge struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  hclog.Logger
}

// NewResilientBridge returns an empty registry. A nil logger discards output.
func NewResilientBridge(logger hclog.Logger) *ResilientBridge {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ResilientBridge{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// RegisterProvider builds a client for cfg and registers it under cfg.Name,
// replacing any previous registration. The bridge logger is used unless opts
// sets one.
func (sdk *ResilientBridge) RegisterProvider(cfg *ProviderConfig, table RouteTable, opts ...Option) (*Client, error) {
	opts = append([]Option{WithLogger(sdk.logger)}, opts...)
	c, err := NewClient(cfg, table, opts...)
	if err != nil {
		return nil, err
	}
	sdk.Register(c)
	return c, nil
}

// Register adds a client built elsewhere, such as by a vendor adapter, under
// its provider name, closing the client it replaces.
func (sdk *ResilientBridge) Register(c *Client) {
	sdk.mu.Lock()
	prev := sdk.clients[c.Name()]
	sdk.clients[c.Name()] = c
	sdk.mu.Unlock()

	if prev != nil && prev != c {
		prev.Close()
	}
	sdk.logger.Debug("registered provider", "provider", c.Name(), "config", c.config.String())
}

// Provider returns the client registered under name.
func (sdk *ResilientBridge) Provider(name string) (*Client, bool) {
	sdk.mu.RLock()
	defer sdk.mu.RUnlock()
	c, ok := sdk.clients[name]
	return c, ok
}

// Providers returns the sorted names of the registered providers.
func (sdk *ResilientBridge) Providers() []string {
	sdk.mu.RLock()
	defer sdk.mu.RUnlock()
	out := make([]string, 0, len(sdk.clients))
	for name := range sdk.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Request calls resource.id on the named provider.
func (sdk *ResilientBridge) Request(ctx context.Context, provider, resource, id string, call *CallRequest) (*Response, error) {
	c, ok := sdk.Provider(provider)
	if !ok {
		return nil, configError("provider %q not registered", provider)
	}
	return c.Call(ctx, resource, id, call)
}

// GetRateLimitInfo returns the current known rate limit info of a provider.
func (sdk *ResilientBridge) GetRateLimitInfo(provider string) (RateLimitInfo, error) {
	c, ok := sdk.Provider(provider)
	if !ok {
		return RateLimitInfo{}, configError("provider %q not registered", provider)
	}
	return c.RateLimits().Snapshot(), nil
}

// TrackingData returns the request log of every provider.
func (sdk *ResilientBridge) TrackingData() map[string][]tracker.Entry {
	sdk.mu.RLock()
	defer sdk.mu.RUnlock()
	out := make(map[string][]tracker.Entry, len(sdk.clients))
	for name, c := range sdk.clients {
		out[name] = c.Tracker().Log()
	}
	return out
}

// Close closes every registered client.
func (sdk *ResilientBridge) Close() {
	sdk.mu.RLock()
	defer sdk.mu.RUnlock()
	for _, c := range sdk.clients {
		c.Close()
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("client(%s)", c.config.String())
}
