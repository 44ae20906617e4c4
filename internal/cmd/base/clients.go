package base

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/adapters"
	"github.com/opengovern/resilient-rest/internal/config"
	"github.com/opengovern/resilient-rest/routefile"
)

// LoadConfig reads the configuration file and applies its log level.
func (c *Command) LoadConfig(path string) (*config.File, error) {
	if path == "" {
		return nil, fmt.Errorf("config flag is required")
	}
	f, err := config.Load(c.Fs, path)
	if err != nil {
		return nil, err
	}
	if lvl := hclog.LevelFromString(f.LogLevel); lvl != hclog.NoLevel {
		c.Log.SetLevel(lvl)
	}
	return f, nil
}

// Client builds the client of the named provider.
func (c *Command) Client(f *config.File, name string) (*resilientrest.Client, *config.Provider, error) {
	p, ok := f.Provider(name)
	if !ok {
		return nil, nil, fmt.Errorf("provider %q is not configured", name)
	}
	opts := []resilientrest.Option{resilientrest.WithLogger(c.Log)}

	switch p.Adapter {
	case config.AdapterGitHub:
		cfg, err := p.ProviderConfig(adapters.GitHubDefaultBaseURL)
		if err != nil {
			return nil, nil, err
		}
		client, err := adapters.NewGitHubClient(p.Credential(), cfg, opts...)
		return client, p, err

	case config.AdapterZenHub:
		cfg, err := p.ProviderConfig(adapters.ZenHubDefaultBaseURL)
		if err != nil {
			return nil, nil, err
		}
		client, err := adapters.NewZenHubClient(p.Credential(), cfg, opts...)
		return client, p, err

	case config.AdapterBox:
		cfg, err := p.ProviderConfig(adapters.BoxDefaultBaseURL)
		if err != nil {
			return nil, nil, err
		}
		boxCfg, err := c.boxConfig(p)
		if err != nil {
			return nil, nil, err
		}
		box, err := adapters.NewBoxClient(boxCfg, cfg, opts...)
		if err != nil {
			return nil, nil, err
		}
		return box.Client(), p, nil

	case config.AdapterGoogleCalendar:
		cfg, err := p.ProviderConfig(adapters.GoogleCalendarDefaultBaseURL)
		if err != nil {
			return nil, nil, err
		}
		if p.OAuth == nil {
			return nil, nil, fmt.Errorf("provider %q: oauth block is required", p.Name)
		}
		oauth := &oauth2.Config{ClientID: p.OAuth.ClientID, ClientSecret: secret(p.OAuth)}
		tok := &oauth2.Token{AccessToken: p.Credential(), RefreshToken: env(p.OAuth.RefreshTokenEnv)}
		cal, err := adapters.NewGoogleCalendarClient(oauth, tok, cfg, opts...)
		if err != nil {
			return nil, nil, err
		}
		return cal.Client(), p, nil
	}

	rf, err := routefile.Load(c.Fs, f.RoutesPath(p))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := p.ProviderConfig(rf.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	if token := p.Credential(); token != "" {
		opts = append(opts, resilientrest.WithAuthenticator(resilientrest.Bearer(token)))
	}
	client, err := resilientrest.NewClient(cfg, rf.Resources, opts...)
	return client, p, err
}

func (c *Command) boxConfig(p *config.Provider) (adapters.BoxConfig, error) {
	cfg := adapters.BoxConfig{AccessToken: p.Credential(), Fs: c.Fs, Logger: c.Log}
	o := p.OAuth
	if o == nil {
		return cfg, nil
	}
	cfg.ClientID = o.ClientID
	cfg.ClientSecret = secret(o)
	cfg.EnterpriseID = o.EnterpriseID
	cfg.KeyID = o.KeyID
	cfg.KeyPassphrase = env(o.PassphraseEnv)
	cfg.RefreshToken = env(o.RefreshTokenEnv)
	cfg.TokenFile = o.TokenFile

	if o.PrivateKeyFile != "" {
		data, err := afero.ReadFile(c.Fs, o.PrivateKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("read private key: %w", err)
		}
		switch strings.ToLower(filepath.Ext(o.PrivateKeyFile)) {
		case ".p12", ".pfx":
			cfg.PKCS12 = data
		default:
			cfg.PrivateKeyPEM = data
		}
	}
	return cfg, nil
}

func secret(o *config.OAuth) string {
	if o.ClientSecret != "" {
		return o.ClientSecret
	}
	return env(o.ClientSecretEnv)
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
