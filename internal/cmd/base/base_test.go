package base

import (
	"context"
	"flag"
	"fmt"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/mock"
)

const itemsRoutes = `
name: items
resources:
  items:
    endpoint: /items
    methods:
      - id: list
        query_params: {limit: 10}
`

func testCommand(t *testing.T, baseURL string) *Command {
	t.Helper()
	c := NewCommand(hclog.NewNullLogger(), cli.NewMockUi())
	c.Fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(c.Fs, "/routes/items.yaml", []byte(itemsRoutes), 0o644))
	require.NoError(t, afero.WriteFile(c.Fs, "/config.hcl", []byte(fmt.Sprintf(`
log_level  = "trace"
routes_dir = "/routes"

provider "items" {
  base_url = %q
  routes   = "items.yaml"
  token    = "secret"
}

provider "gh" {
  adapter  = "github"
  base_url = %q
}
`, baseURL, baseURL)), 0o644))
	return c
}

func TestKeyValues(t *testing.T) {
	kv := KeyValues{}
	require.NoError(t, kv.Set("a=1"))
	require.NoError(t, kv.Set("b=x=y"))
	assert.Error(t, kv.Set("novalue"))
	assert.Error(t, kv.Set("=v"))
	assert.Equal(t, resilientrest.Params{"a": "1", "b": "x=y"}, kv.Params())
	assert.Nil(t, KeyValues{}.Params())
}

func TestFlagSetHelp(t *testing.T) {
	f := NewFlagSet(flag.NewFlagSet("x", flag.ContinueOnError))
	var s string
	var n int
	f.StringVar(&s, "config", "", "Path to the config")
	f.IntVar(&n, "calls", 3, "Number of calls")

	help := f.Help()
	assert.Contains(t, help, "-config\n      Path to the config")
	assert.Contains(t, help, "-calls=3")
	assert.Error(t, f.Parse([]string{"-unknown"}))
}

func TestGenericClientFromRouteFile(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	c := testCommand(t, srv.URL)

	f, err := c.LoadConfig("/config.hcl")
	require.NoError(t, err)
	client, p, err := c.Client(f, "items")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "items", p.Name)

	_, err = client.Call(context.Background(), "items", "list", nil)
	require.NoError(t, err)
	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/items", reqs[0].Path)
	assert.Equal(t, "limit=10", reqs[0].Query)
	assert.Equal(t, "Bearer secret", reqs[0].Header.Get("Authorization"))
}

func TestAdapterClient(t *testing.T) {
	srv := mock.NewServer()
	defer srv.Close()
	c := testCommand(t, srv.URL)

	f, err := c.LoadConfig("/config.hcl")
	require.NoError(t, err)
	client, _, err := c.Client(f, "gh")
	require.NoError(t, err)
	defer client.Close()
	_, ok := client.API().Operation("orgs", "getOrg")
	assert.True(t, ok)

	_, _, err = c.Client(f, "missing")
	assert.ErrorContains(t, err, `provider "missing" is not configured`)
}

func TestLoadConfigRequiresPath(t *testing.T) {
	c := testCommand(t, "http://localhost")
	_, err := c.LoadConfig("")
	assert.Error(t, err)
	_, err = c.LoadConfig("/absent.hcl")
	assert.Error(t, err)
}
