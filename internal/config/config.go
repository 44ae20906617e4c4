// Package config loads the HCL configuration of the resilient-rest binary.
//
//	log_level = "info"
//	routes_dir = "./routes"
//
//	provider "github" {
//	  adapter   = "github"
//	  token_env = "GITHUB_TOKEN"
//	  timeout   = "30s"
//
//	  retry {
//	    limit     = 5
//	    base_wait = "100ms"
//	    max_wait  = "30s"
//	  }
//
//	  scheduler {
//	    limit  = 10
//	    period = "1s"
//	  }
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/afero"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/scheduler"
)

// Adapter names known to the binary. An empty adapter is a generic client
// built from a route file.
const (
	AdapterBox            = "box"
	AdapterGitHub         = "github"
	AdapterZenHub         = "zenhub"
	AdapterGoogleCalendar = "google-calendar"
)

// File is the top level of a configuration file.
type File struct {
	LogLevel  string     `hcl:"log_level,optional"`
	RoutesDir string     `hcl:"routes_dir,optional"`
	Providers []Provider `hcl:"provider,block"`
}

// Provider configures one vendor client.
type Provider struct {
	Name    string `hcl:"name,label"`
	Adapter string `hcl:"adapter,optional"`
	BaseURL string `hcl:"base_url,optional"`
	// Routes is the route file of a provider without an adapter, relative
	// to routes_dir.
	Routes   string `hcl:"routes,optional"`
	Token    string `hcl:"token,optional"`
	TokenEnv string `hcl:"token_env,optional"`
	Timeout  string `hcl:"timeout,optional"`

	UseProviderLimits   *bool   `hcl:"use_provider_limits,optional"`
	MaxRequestsOverride *int    `hcl:"max_requests_override,optional"`
	RequestsPerSecond   float64 `hcl:"requests_per_second,optional"`
	Burst               int     `hcl:"burst,optional"`

	Retry     *Retry     `hcl:"retry,block"`
	Scheduler *Scheduler `hcl:"scheduler,block"`
	OAuth     *OAuth     `hcl:"oauth,block"`
}

type Retry struct {
	Enabled  *bool  `hcl:"enabled,optional"`
	Limit    int    `hcl:"limit,optional"`
	BaseWait string `hcl:"base_wait,optional"`
	MaxWait  string `hcl:"max_wait,optional"`
}

type Scheduler struct {
	Disabled bool   `hcl:"disabled,optional"`
	Limit    int    `hcl:"limit"`
	Period   string `hcl:"period"`
}

// OAuth holds app credentials for the Box and Google Calendar adapters.
type OAuth struct {
	ClientID        string `hcl:"client_id"`
	ClientSecret    string `hcl:"client_secret,optional"`
	ClientSecretEnv string `hcl:"client_secret_env,optional"`
	RefreshTokenEnv string `hcl:"refresh_token_env,optional"`

	// Box server authentication.
	EnterpriseID   string `hcl:"enterprise_id,optional"`
	KeyID          string `hcl:"key_id,optional"`
	PrivateKeyFile string `hcl:"private_key_file,optional"`
	PassphraseEnv  string `hcl:"passphrase_env,optional"`
	TokenFile      string `hcl:"token_file,optional"`
}

// Load reads and validates the configuration at path. The file name
// extension selects the syntax: .hcl or .json.
func Load(fs afero.Fs, path string) (*File, error) {
	src, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(filepath.Base(path), src)
}

// Parse decodes src. filename is used for diagnostics and syntax selection.
func Parse(filename string, src []byte) (*File, error) {
	var f File
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", filename, err)
	}
	if f.LogLevel == "" {
		f.LogLevel = "info"
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every provider and reports all problems at once.
func (f *File) Validate() error {
	var result *multierror.Error
	seen := map[string]bool{}
	for i := range f.Providers {
		p := &f.Providers[i]
		if seen[p.Name] {
			result = multierror.Append(result, fmt.Errorf("provider %q: declared twice", p.Name))
		}
		seen[p.Name] = true

		switch p.Adapter {
		case "":
			if p.Routes == "" {
				result = multierror.Append(result, fmt.Errorf("provider %q: routes is required without an adapter", p.Name))
			}
			if p.BaseURL == "" {
				result = multierror.Append(result, fmt.Errorf("provider %q: base_url is required without an adapter", p.Name))
			}
		case AdapterBox, AdapterGitHub, AdapterZenHub:
		case AdapterGoogleCalendar:
			if p.OAuth == nil {
				result = multierror.Append(result, fmt.Errorf("provider %q: oauth block is required", p.Name))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("provider %q: unknown adapter %q", p.Name, p.Adapter))
		}

		if _, err := p.ProviderConfig(""); err != nil {
			result = multierror.Append(result, err)
		}
		if _, err := p.SchedulerConfig(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Provider returns the provider named name.
func (f *File) Provider(name string) (*Provider, bool) {
	for i := range f.Providers {
		if f.Providers[i].Name == name {
			return &f.Providers[i], true
		}
	}
	return nil, false
}

// RoutesPath resolves the route file of p against the routes directory.
func (f *File) RoutesPath(p *Provider) string {
	if p.Routes == "" || filepath.IsAbs(p.Routes) || f.RoutesDir == "" {
		return p.Routes
	}
	return filepath.Join(f.RoutesDir, p.Routes)
}

// Credential returns the literal token or the value of token_env.
func (p *Provider) Credential() string {
	if p.Token != "" {
		return p.Token
	}
	if p.TokenEnv != "" {
		return os.Getenv(p.TokenEnv)
	}
	return ""
}

// ProviderConfig converts p into a client configuration. defaultBaseURL is
// used when base_url is not set.
func (p *Provider) ProviderConfig(defaultBaseURL string) (*resilientrest.ProviderConfig, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg := resilientrest.DefaultProviderConfig(p.Name, baseURL)

	var err error
	if cfg.Timeout, err = duration(p.Name, "timeout", p.Timeout, cfg.Timeout); err != nil {
		return nil, err
	}
	if p.UseProviderLimits != nil {
		cfg.UseProviderLimits = *p.UseProviderLimits
	}
	cfg.MaxRequestsOverride = p.MaxRequestsOverride
	cfg.RequestsPerSecond = p.RequestsPerSecond
	if p.Burst > 0 {
		cfg.Burst = p.Burst
	}

	if r := p.Retry; r != nil {
		if r.Enabled != nil {
			cfg.Retry.Enabled = *r.Enabled
		}
		if r.Limit > 0 {
			cfg.Retry.Limit = r.Limit
		}
		if cfg.Retry.BaseWait, err = duration(p.Name, "retry.base_wait", r.BaseWait, cfg.Retry.BaseWait); err != nil {
			return nil, err
		}
		if cfg.Retry.MaxWait, err = duration(p.Name, "retry.max_wait", r.MaxWait, cfg.Retry.MaxWait); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SchedulerConfig returns the scheduler budget of p. Without a scheduler
// block the scheduler is disabled.
func (p *Provider) SchedulerConfig() (scheduler.Config, error) {
	if p.Scheduler == nil {
		return scheduler.Config{Disabled: true}, nil
	}
	period, err := duration(p.Name, "scheduler.period", p.Scheduler.Period, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	cfg := scheduler.Config{Disabled: p.Scheduler.Disabled, Limit: p.Scheduler.Limit, Period: period}
	if err := cfg.Validate(); err != nil {
		return scheduler.Config{}, fmt.Errorf("provider %q: %w", p.Name, err)
	}
	return cfg, nil
}

func duration(provider, field, val string, def time.Duration) (time.Duration, error) {
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("provider %q: invalid %s: %w", provider, field, err)
	}
	return d, nil
}
