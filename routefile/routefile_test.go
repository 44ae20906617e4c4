package routefile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilientrest "github.com/opengovern/resilient-rest"
)

const githubRoutes = `
name: github
baseUrl: https://api.github.com
resources:
  issues:
    endpoint: /repos/:owner/:repo/issues
    methods:
      - id: list
        query_params:
          state: open
          labels: [bug, ui]
      - id: create
        method: POST
        body_params:
          meta:
            source: cli
        pinned: [meta]
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(githubRoutes))
	require.NoError(t, err)

	assert.Equal(t, "github", f.Name)
	assert.Equal(t, "https://api.github.com", f.BaseURL)
	require.Contains(t, f.Resources, "issues")

	issues := f.Resources["issues"]
	assert.Equal(t, "/repos/:owner/:repo/issues", issues.Endpoint)
	require.Len(t, issues.Methods, 2)
	assert.Equal(t, "list", issues.Methods[0].ID)
	assert.Equal(t, "open", issues.Methods[0].QueryParams["state"])
	assert.Equal(t, []any{"bug", "ui"}, issues.Methods[0].QueryParams["labels"])

	create := issues.Methods[1]
	assert.Equal(t, "POST", create.Method)
	assert.Equal(t, []string{"meta"}, create.Pinned)
	assert.IsType(t, resilientrest.Params{}, create.BodyParams["meta"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("  \n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Parse([]byte("resources: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadCompiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/routes/github.yaml", []byte(githubRoutes), 0o644))

	f, err := Load(fsys, "/routes/github.yaml")
	require.NoError(t, err)

	api, err := resilientrest.Compile(f.BaseURL, f.Resources, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "list"}, api.Methods("issues"))

	op, ok := api.Operation("issues", "list")
	require.True(t, ok)
	spec, _, err := op.Prepare(&resilientrest.CallRequest{
		PathParams: resilientrest.Params{"owner": "octo", "repo": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/repos/octo/hello/issues?labels=bug&labels=ui&state=open", spec.URL)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nope.yaml")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoadDir(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/routes/github.yaml", []byte(githubRoutes), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/routes/zenhub.json",
		[]byte(`{"resources": {"board": {"endpoint": "/p1/repositories/:repo_id/board", "methods": [{"id": "get"}]}}}`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/routes/README.md", []byte("# routes"), 0o644))

	files, err := LoadDir(fsys, "/routes")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files, "github")
	require.Contains(t, files, "zenhub")
	assert.Equal(t, "get", files["zenhub"].Resources["board"].Methods[0].ID)
}
