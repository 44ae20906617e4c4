// box_adapter.go
// --------------
// This adapter integrates with the Box content API (folders, files,
// collaborations, users, search and metadata).
//
// Key Points:
//   - Requests carry a bearer access token. Token endpoints are anonymous.
//   - Server tokens come from a JWT assertion signed with RS256 by the app
//     private key (PEM, optionally encrypted, or PKCS#12) and posted as a form to
//     the token endpoint. OAuth apps can use the authorization code and refresh
//     token grants instead.
//   - A 401 re-authenticates once: with a private key a new server token is
//     fetched, otherwise the refresh token is used.
//   - 429 and connection resets are retried; Retry-After replaces the base wait.
//   - Tokens can be persisted as JSON to a file so that a later run reuses them.
package adapters

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/oauth2"

	resilientrest "github.com/opengovern/resilient-rest"
)

const (
	BoxDefaultBaseURL   = "https://api.box.com"
	BoxJWTGrantType     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	BoxDefaultSubType   = "enterprise"
	BoxAssertionTimeout = 60 * time.Second
)

var ErrNoBoxCredentials = errors.New("box: no access token, refresh token or private key configured")

// BoxConfig holds the app credentials.
type BoxConfig struct {
	ClientID     string
	ClientSecret string

	// JWT server authentication.
	EnterpriseID  string
	SubType       string // enterprise or user
	KeyID         string
	PrivateKeyPEM []byte
	PKCS12        []byte
	KeyPassphrase string
	// Audience defaults to the token endpoint of the base URL.
	Audience string

	// Initial tokens, for OAuth apps.
	AccessToken  string
	RefreshToken string

	// TokenFile persists the tokens when set.
	TokenFile string
	Fs        afero.Fs

	Logger hclog.Logger
}

// BoxRoutes is the route table of the Box API subset in use. The app
// credentials are baked into the token methods.
func BoxRoutes(clientID, clientSecret string) resilientrest.RouteTable {
	usersFields := resilientrest.Params{"fields": "name,login,language,role,timezone,enterprise"}
	openLink := resilientrest.Params{"shared_link": resilientrest.Params{"access": "open"}}
	credentials := func(grant string) resilientrest.Params {
		return resilientrest.Params{"grant_type": grant, "client_id": clientID, "client_secret": clientSecret}
	}
	pinned := []string{"grant_type"}

	return resilientrest.RouteTable{
		"token": {
			Endpoint: "/oauth2/token",
			Methods: []resilientrest.MethodDef{
				{ID: "code", Method: http.MethodPost, BodyParams: credentials("authorization_code"), Pinned: pinned, Anonymous: true},
				{ID: "server", Method: http.MethodPost, BodyParams: credentials(BoxJWTGrantType), Pinned: pinned, Anonymous: true},
				{ID: "refresh", Method: http.MethodPost, BodyParams: credentials("refresh_token"), Pinned: pinned, Anonymous: true},
			},
		},
		"search": {
			Endpoint: "/2.0/search",
			Methods:  []resilientrest.MethodDef{{ID: "get"}},
		},
		"folders": {
			Endpoint: "/2.0/folders",
			Methods: []resilientrest.MethodDef{
				{ID: "create", Method: http.MethodPost},
			},
		},
		"folder": {
			Endpoint:   "/2.0/folders/:fid",
			PathParams: resilientrest.Params{"fid": "0"},
			Methods: []resilientrest.MethodDef{
				{ID: "info"},
				{ID: "rename", Method: http.MethodPut},
				{ID: "createSharedLink", Method: http.MethodPut, BodyParams: openLink},
				{ID: "createPreviewLink", QueryParams: resilientrest.Params{"fields": "expiring_embed_link"}},
				{ID: "delete", Method: http.MethodDelete},
				{ID: "getItems", Path: "/items", QueryParams: resilientrest.Params{"limit": 100}},
				{ID: "getCollab", Path: "/collaborations"},
				{ID: "getMetadata", Path: "/metadata/:scope/:template"},
				{ID: "createMetadata", Method: http.MethodPost, Path: "/metadata/:scope/:template"},
			},
		},
		"file": {
			Endpoint: "/2.0/files/:fid",
			Methods: []resilientrest.MethodDef{
				{ID: "info"},
				{ID: "delete", Method: http.MethodDelete},
				{ID: "createSharedLink", Method: http.MethodPut, BodyParams: openLink},
				{ID: "copy", Method: http.MethodPost, Path: "/copy"},
				{ID: "createPreviewLink", QueryParams: resilientrest.Params{"fields": "expiring_embed_link"}},
				{ID: "getThumbnail", Path: "/thumbnail.:extension", Binary: true,
					QueryParams: resilientrest.Params{"min_height": 128, "min_width": 128}},
				{ID: "content", Path: "/content", Binary: true},
			},
		},
		"collaborations": {
			Endpoint: "/2.0/collaborations",
			Methods:  []resilientrest.MethodDef{{ID: "add", Method: http.MethodPost}},
		},
		"collaboration": {
			Endpoint: "/2.0/collaborations/:cid",
			Methods: []resilientrest.MethodDef{
				{ID: "get"},
				{ID: "delete", Method: http.MethodDelete},
			},
		},
		"users": {
			Endpoint: "/2.0/users",
			Methods: []resilientrest.MethodDef{
				{ID: "get", QueryParams: usersFields},
				{ID: "create", Method: http.MethodPost},
			},
		},
		"user": {
			Endpoint: "/2.0/users/:uid",
			Methods:  []resilientrest.MethodDef{{ID: "info", QueryParams: usersFields}},
		},
		"batch": {
			Endpoint: "/2.0/batch",
			Methods:  []resilientrest.MethodDef{{ID: "exec", Method: http.MethodPost}},
		},
		"metadata": {
			Endpoint: "/2.0/metadata_templates",
			Methods: []resilientrest.MethodDef{
				{ID: "create", Method: http.MethodPost, Path: "/schema",
					BodyParams: resilientrest.Params{"scope": "enterprise", "templateKey": "", "displayName": "", "fields": []any{}}},
			},
		},
	}
}

// BoxClassifier is the default classification, except that a 401 from a
// token endpoint is final.
type BoxClassifier struct{}

func (BoxClassifier) Classify(spec *resilientrest.RequestSpec, resp *resilientrest.Response, err error, limits *resilientrest.RateLimitState) resilientrest.Outcome {
	outcome := resilientrest.DefaultClassifier{}.Classify(spec, resp, err, limits)
	if outcome == resilientrest.OutcomeReauth && spec.Anonymous {
		return resilientrest.OutcomeFatal
	}
	return outcome
}

// BoxAdapter owns the Box tokens and the client that uses them. It is the
// client's Authenticator and Reauthenticator and an oauth2.TokenSource.
type BoxAdapter struct {
	cfg    BoxConfig
	key    *rsa.PrivateKey
	client *resilientrest.Client
	logger hclog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewBoxClient parses the credentials of cfg and builds the Box client.
func NewBoxClient(cfg BoxConfig, pcfg *resilientrest.ProviderConfig, opts ...resilientrest.Option) (*BoxAdapter, error) {
	if pcfg == nil {
		pcfg = resilientrest.DefaultProviderConfig("box", BoxDefaultBaseURL)
	}
	if cfg.SubType == "" {
		cfg.SubType = BoxDefaultSubType
	}
	if cfg.Audience == "" {
		cfg.Audience = pcfg.BaseURL + "/oauth2/token"
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	a := &BoxAdapter{cfg: cfg, logger: cfg.Logger.Named("box")}
	key, err := parseBoxKey(cfg)
	if err != nil {
		return nil, err
	}
	a.key = key

	if cfg.AccessToken != "" || cfg.RefreshToken != "" {
		a.token = &oauth2.Token{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken, TokenType: "Bearer"}
	}
	if err := a.loadTokens(); err != nil {
		return nil, err
	}

	base := []resilientrest.Option{
		resilientrest.WithAuthenticator(a),
		resilientrest.WithReauthenticator(a),
		resilientrest.WithClassifier(BoxClassifier{}),
	}
	client, err := resilientrest.NewClient(pcfg, BoxRoutes(cfg.ClientID, cfg.ClientSecret), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

func parseBoxKey(cfg BoxConfig) (*rsa.PrivateKey, error) {
	switch {
	case len(cfg.PrivateKeyPEM) > 0:
		var (
			key *rsa.PrivateKey
			err error
		)
		if cfg.KeyPassphrase != "" {
			key, err = jwt.ParseRSAPrivateKeyFromPEMWithPassword(cfg.PrivateKeyPEM, cfg.KeyPassphrase)
		} else {
			key, err = jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		}
		if err != nil {
			return nil, fmt.Errorf("box: parse private key: %w", err)
		}
		return key, nil
	case len(cfg.PKCS12) > 0:
		priv, _, err := pkcs12.Decode(cfg.PKCS12, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("box: decode PKCS#12: %w", err)
		}
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("box: PKCS#12 key is %T, want RSA", priv)
		}
		return key, nil
	}
	return nil, nil
}

// Client returns the Box API client.
func (a *BoxAdapter) Client() *resilientrest.Client { return a.client }

// Token implements oauth2.TokenSource.
func (a *BoxAdapter) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == nil || a.token.AccessToken == "" {
		return nil, ErrNoBoxCredentials
	}
	tok := *a.token
	return &tok, nil
}

// Authenticate sets the bearer token, fetching a server token first when
// none is held yet and a private key is configured.
func (a *BoxAdapter) Authenticate(ctx context.Context, spec *resilientrest.RequestSpec, call *resilientrest.CallRequest) error {
	if spec.Anonymous {
		return nil
	}
	if _, err := a.Token(); err != nil && a.key != nil {
		if err := a.ServerToken(ctx); err != nil {
			return err
		}
	}
	return resilientrest.BearerFromSource(a).Authenticate(ctx, spec, call)
}

// Reauthenticate renews the access token after a 401.
func (a *BoxAdapter) Reauthenticate(ctx context.Context) error {
	if a.key != nil {
		return a.ServerToken(ctx)
	}
	a.mu.Lock()
	refresh := a.token != nil && a.token.RefreshToken != ""
	a.mu.Unlock()
	if refresh {
		return a.Refresh(ctx)
	}
	return ErrNoBoxCredentials
}

type boxClaims struct {
	BoxSubType string `json:"box_sub_type"`
	jwt.RegisteredClaims
}

// Assertion signs the JWT used to request a server token.
func (a *BoxAdapter) Assertion(now time.Time) (string, error) {
	if a.key == nil {
		return "", ErrNoBoxCredentials
	}
	claims := boxClaims{
		BoxSubType: a.cfg.SubType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.ClientID,
			Subject:   a.cfg.EnterpriseID,
			Audience:  jwt.ClaimStrings{a.cfg.Audience},
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(BoxAssertionTimeout)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if a.cfg.KeyID != "" {
		token.Header["kid"] = a.cfg.KeyID
	}
	return token.SignedString(a.key)
}

// ServerToken fetches a server token with a signed JWT assertion.
func (a *BoxAdapter) ServerToken(ctx context.Context) error {
	assertion, err := a.Assertion(time.Now())
	if err != nil {
		return err
	}
	a.logger.Debug("requesting server token", "enterprise", a.cfg.EnterpriseID)
	return a.grant(ctx, "server", resilientrest.Params{"assertion": assertion})
}

// Refresh trades the refresh token for new tokens.
func (a *BoxAdapter) Refresh(ctx context.Context) error {
	a.mu.Lock()
	var refresh string
	if a.token != nil {
		refresh = a.token.RefreshToken
	}
	a.mu.Unlock()
	if refresh == "" {
		return ErrNoBoxCredentials
	}
	a.logger.Debug("refreshing access token")
	return a.grant(ctx, "refresh", resilientrest.Params{"refresh_token": refresh})
}

// Exchange trades an authorization code from the OAuth redirect for tokens.
func (a *BoxAdapter) Exchange(ctx context.Context, code string) error {
	return a.grant(ctx, "code", resilientrest.Params{"code": code})
}

type boxTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (a *BoxAdapter) grant(ctx context.Context, method string, body resilientrest.Params) error {
	resp, err := a.client.Call(ctx, "token", method, &resilientrest.CallRequest{
		BodyParams:  body,
		ContentType: resilientrest.ContentTypeForm,
	})
	if err != nil {
		return fmt.Errorf("box: %s token: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("box: %s token returned %d: %s", method, resp.StatusCode, resp.Text())
	}
	var tr boxTokenResponse
	if err := resp.DecodeJSON(&tr); err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("box: %s token response has no access_token", method)
	}
	tok := &oauth2.Token{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, TokenType: tr.TokenType}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return a.SetToken(tok)
}

// SetToken replaces the held tokens and persists them when a token file is
// configured. An empty refresh token keeps the previous one.
func (a *BoxAdapter) SetToken(tok *oauth2.Token) error {
	a.mu.Lock()
	if tok.RefreshToken == "" && a.token != nil {
		tok.RefreshToken = a.token.RefreshToken
	}
	a.token = tok
	a.mu.Unlock()
	return a.saveTokens(tok)
}

type boxTokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func (a *BoxAdapter) saveTokens(tok *oauth2.Token) error {
	if a.cfg.TokenFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(boxTokenFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(a.cfg.Fs, a.cfg.TokenFile, data, 0o600); err != nil {
		return fmt.Errorf("box: save tokens: %w", err)
	}
	return nil
}

func (a *BoxAdapter) loadTokens() error {
	if a.cfg.TokenFile == "" {
		return nil
	}
	data, err := afero.ReadFile(a.cfg.Fs, a.cfg.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("box: load tokens: %w", err)
	}
	var f boxTokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("box: parse %s: %w", a.cfg.TokenFile, err)
	}
	if f.AccessToken != "" {
		a.token = &oauth2.Token{AccessToken: f.AccessToken, RefreshToken: f.RefreshToken, TokenType: f.TokenType, Expiry: f.Expiry}
	}
	return nil
}
