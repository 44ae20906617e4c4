package call

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengovern/resilient-rest/internal/cmd/base"
	"github.com/opengovern/resilient-rest/mock"
)

const routes = `
resources:
  items:
    endpoint: /items
    methods:
      - id: get
        path: /:id
      - id: create
        method: POST
      - id: download
        path: /:id/content
        binaryBody: true
`

func newCommand(t *testing.T, baseURL string) (*Command, *cli.MockUi) {
	t.Helper()
	ui := cli.NewMockUi()
	b := base.NewCommand(hclog.NewNullLogger(), ui)
	b.Fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(b.Fs, "/items.yaml", []byte(routes), 0o644))
	require.NoError(t, afero.WriteFile(b.Fs, "/config.hcl", []byte(fmt.Sprintf(`
provider "items" {
  base_url = %q
  routes   = "/items.yaml"
  token    = "secret"
  retry {
    base_wait = "1ms"
    max_wait  = "5ms"
  }
}
`, baseURL)), 0o644))
	return &Command{Command: b}, ui
}

func TestCallPrintsResponse(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	srv.Script(mock.TooManyRequests(""), mock.JSON(200, `{"id":"7"}`))
	c, ui := newCommand(t, srv.URL)

	code := c.Run([]string{"-config", "/config.hcl", "-provider", "items", "-path", "id=7", "-query", "expand=all", "items", "get"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())

	out := ui.OutputWriter.String()
	assert.Contains(t, out, "HTTP 200")
	assert.Contains(t, out, `{"id":"7"}`)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/items/7", reqs[1].Path)
	assert.Equal(t, "expand=all", reqs[1].Query)
}

func TestCallSendsBody(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	c, ui := newCommand(t, srv.URL)

	code := c.Run([]string{"-config", "/config.hcl", "-provider", "items", "-form", "-body", `{"name":"a b"}`, "items", "create"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())

	req := srv.Requests()[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "name=a+b", string(req.Body))
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
}

func TestCallWritesBinaryBody(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	srv.Script(mock.Reply{Status: 200, Headers: map[string]string{"Content-Type": "application/octet-stream"}, Body: []byte{0, 1, 2, 0xff}})
	c, ui := newCommand(t, srv.URL)

	code := c.Run([]string{"-config", "/config.hcl", "-provider", "items", "-path", "id=1", "-out", "/out.bin", "items", "download"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())

	data, err := afero.ReadFile(c.Fs, "/out.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0xff}, data)
}

func TestCallFailure(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	srv.Fallback(mock.TooManyRequests(""))
	c, ui := newCommand(t, srv.URL)

	code := c.Run([]string{"-config", "/config.hcl", "-provider", "items", "-path", "id=1", "items", "get"})
	assert.Equal(t, 2, code)
	assert.Contains(t, ui.ErrorWriter.String(), "rate limited")
	assert.Equal(t, 5, srv.Count())
}

func TestCallUsageErrors(t *testing.T) {
	c, ui := newCommand(t, "http://localhost")

	assert.Equal(t, 1, c.Run([]string{"-config", "/config.hcl", "-provider", "items", "items"}))
	assert.Equal(t, 1, c.Run([]string{"-config", "/config.hcl", "items", "get"}))
	assert.Equal(t, 1, c.Run([]string{"-config", "/config.hcl", "-provider", "nope", "items", "get"}))
	assert.Equal(t, 1, c.Run([]string{"-config", "/config.hcl", "-provider", "items", "-body", "[1]", "items", "create"}))
	assert.Contains(t, ui.ErrorWriter.String(), "body must be a JSON object")
	assert.Contains(t, c.Help(), "-provider")
}
