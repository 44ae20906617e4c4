package adapters

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/mock"
)

func testRSAKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func tokenReply(access, refresh string) mock.Reply {
	body, _ := json.Marshal(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    3600,
	})
	return mock.JSON(http.StatusOK, string(body))
}

func formOf(t *testing.T, r mock.Request) url.Values {
	t.Helper()
	v, err := url.ParseQuery(string(r.Body))
	require.NoError(t, err)
	return v
}

func TestBoxServerTokenOnFirstCall(t *testing.T) {
	key, pemBytes := testRSAKey(t)
	srv := mock.NewServer()
	defer srv.Close()
	srv.Script(tokenReply("server-1", ""), mock.JSON(200, `{"id":"0","type":"folder"}`))

	box, err := NewBoxClient(BoxConfig{
		ClientID:      "cid",
		ClientSecret:  "csecret",
		EnterpriseID:  "777",
		KeyID:         "kid-1",
		PrivateKeyPEM: pemBytes,
	}, testProvider("box", srv.URL))
	require.NoError(t, err)
	defer box.Client().Close()

	resp, err := box.Client().Call(context.Background(), "folder", "info", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/oauth2/token", reqs[0].Path)
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "application/x-www-form-urlencoded", reqs[0].Header.Get("Content-Type"))

	form := formOf(t, reqs[0])
	assert.Equal(t, BoxJWTGrantType, form.Get("grant_type"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "csecret", form.Get("client_secret"))

	claims := &boxClaims{}
	parsed, err := jwt.ParseWithClaims(form.Get("assertion"), claims, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "RS256", parsed.Method.Alg())
	assert.Equal(t, "kid-1", parsed.Header["kid"])
	assert.Equal(t, "cid", claims.Issuer)
	assert.Equal(t, "777", claims.Subject)
	assert.Equal(t, "enterprise", claims.BoxSubType)
	assert.True(t, claims.VerifyAudience(srv.URL+"/oauth2/token", true))
	assert.NotEmpty(t, claims.ID)

	assert.Equal(t, "/2.0/folders/0", reqs[1].Path)
	assert.Equal(t, "Bearer server-1", reqs[1].Header.Get("Authorization"))
}

func TestBoxReauthenticatesWithServerToken(t *testing.T) {
	_, pemBytes := testRSAKey(t)
	srv := mock.NewServer()
	defer srv.Close()
	srv.Script(
		mock.Status(http.StatusUnauthorized),
		tokenReply("server-2", ""),
		mock.JSON(200, `{"id":"12"}`),
	)

	box, err := NewBoxClient(BoxConfig{
		ClientID:      "cid",
		EnterpriseID:  "777",
		PrivateKeyPEM: pemBytes,
		AccessToken:   "stale",
	}, testProvider("box", srv.URL))
	require.NoError(t, err)
	defer box.Client().Close()

	resp, err := box.Client().Call(context.Background(), "file", "info", &resilientrest.CallRequest{
		PathParams: resilientrest.Params{"fid": "12"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "Bearer stale", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "/oauth2/token", reqs[1].Path)
	assert.Equal(t, "Bearer server-2", reqs[2].Header.Get("Authorization"))
}

func TestBoxRefreshPersistsTokens(t *testing.T) {
	fs := afero.NewMemMapFs()
	srv := mock.NewServer()
	defer srv.Close()
	srv.Script(
		mock.Status(http.StatusUnauthorized),
		tokenReply("access-2", "refresh-2"),
		mock.JSON(200, `{"entries":[]}`),
	)

	box, err := NewBoxClient(BoxConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenFile:    "/tokens.json",
		Fs:           fs,
	}, testProvider("box", srv.URL))
	require.NoError(t, err)
	defer box.Client().Close()

	_, err = box.Client().Call(context.Background(), "folder", "getItems", nil)
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	form := formOf(t, reqs[1])
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))
	assert.Equal(t, "/2.0/folders/0/items", reqs[2].Path)
	assert.Equal(t, "limit=100", reqs[2].Query)

	data, err := afero.ReadFile(fs, "/tokens.json")
	require.NoError(t, err)
	var saved boxTokenFile
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "access-2", saved.AccessToken)
	assert.Equal(t, "refresh-2", saved.RefreshToken)

	reloaded, err := NewBoxClient(BoxConfig{TokenFile: "/tokens.json", Fs: fs}, testProvider("box", srv.URL))
	require.NoError(t, err)
	defer reloaded.Client().Close()
	tok, err := reloaded.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
}

func TestBoxTokenEndpoint401IsFinal(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	srv.Fallback(mock.Status(http.StatusUnauthorized))

	box, err := NewBoxClient(BoxConfig{RefreshToken: "r"}, testProvider("box", srv.URL))
	require.NoError(t, err)
	defer box.Client().Close()

	err = box.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, srv.Count())
}

func TestBoxWithoutCredentials(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()

	box, err := NewBoxClient(BoxConfig{}, testProvider("box", srv.URL))
	require.NoError(t, err)
	defer box.Client().Close()

	_, err = box.Client().Call(context.Background(), "users", "get", nil)
	require.Error(t, err)
	assert.Equal(t, resilientrest.KindConfiguration, resilientrest.KindOf(err))
	assert.Zero(t, srv.Count())
	assert.ErrorIs(t, box.Reauthenticate(context.Background()), ErrNoBoxCredentials)
}

func TestBoxInvalidKey(t *testing.T) {
	_, err := NewBoxClient(BoxConfig{PrivateKeyPEM: []byte("not a key")}, testProvider("box", "https://api.box.com"))
	assert.Error(t, err)
}
