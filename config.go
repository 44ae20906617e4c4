// config.go
// ----------
// ProviderConfig carries the per-provider knobs of a Client: base URL,
// transport timeout, retry budget and backoff bounds, and how the client
// treats the rate limit state reported by the vendor.
package resilientrest

import (
	"fmt"
	"net/url"
	"time"
)

// RetryConfig bounds the retry loop of one logical call.
type RetryConfig struct {
	Enabled bool
	// Limit is the maximum number of requests sent for one logical call,
	// not counting the single retry after re-authentication.
	Limit int
	// BaseWait is the wait before the first retry; it doubles per retry.
	BaseWait time.Duration
	// MaxWait caps every computed wait.
	MaxWait time.Duration
}

// ProviderConfig allows per-provider customization of transport, retries
// and rate limits.
type ProviderConfig struct {
	Name    string
	BaseURL string
	Timeout time.Duration

	Retry RetryConfig

	// UseProviderLimits makes the client wait for the reset of an exhausted
	// vendor window before sending, capped by Retry.MaxWait.
	UseProviderLimits   bool
	MaxRequestsOverride *int // Override the vendor reported limit if set

	// RequestsPerSecond paces requests client side with a token bucket when > 0.
	RequestsPerSecond float64
	Burst             int
}

// DefaultRetryConfig returns the retry settings used when none are given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:  true,
		Limit:    5,
		BaseWait: 100 * time.Millisecond,
		MaxWait:  30 * time.Second,
	}
}

// DefaultProviderConfig returns a config for name at baseURL with defaults.
func DefaultProviderConfig(name, baseURL string) *ProviderConfig {
	return &ProviderConfig{
		Name:              name,
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		Retry:             DefaultRetryConfig(),
		UseProviderLimits: true,
		Burst:             1,
	}
}

// Validate checks the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return configError("provider name is required")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return configError("provider %q: invalid base_url: %v", c.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return configError("provider %q: base_url must use http or https scheme, got: %q", c.Name, u.Scheme)
		}
	}
	if c.Timeout < 0 {
		return configError("provider %q: timeout must be non-negative, got: %v", c.Name, c.Timeout)
	}
	if c.Retry.Enabled && c.Retry.Limit < 1 {
		return configError("provider %q: retry limit must be at least 1, got: %d", c.Name, c.Retry.Limit)
	}
	if c.Retry.BaseWait < 0 || c.Retry.MaxWait < 0 {
		return configError("provider %q: retry waits must be non-negative", c.Name)
	}
	if c.MaxRequestsOverride != nil && *c.MaxRequestsOverride < 0 {
		return configError("provider %q: max requests override must be non-negative", c.Name)
	}
	if c.RequestsPerSecond < 0 {
		return configError("provider %q: requests per second must be non-negative", c.Name)
	}
	return nil
}

func (c *ProviderConfig) String() string {
	return fmt.Sprintf("%s(%s retry=%v limit=%d base=%v max=%v)",
		c.Name, c.BaseURL, c.Retry.Enabled, c.Retry.Limit, c.Retry.BaseWait, c.Retry.MaxWait)
}
