package resilientrest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepare(t *testing.T, resource, id string, call *CallRequest) *RequestSpec {
	t.Helper()
	api, err := Compile("https://api.example.com", boxRoutes(), nil)
	require.NoError(t, err)
	op, ok := api.Operation(resource, id)
	require.True(t, ok)
	spec, _, err := op.Prepare(call)
	require.NoError(t, err)
	return spec
}

func TestDispatchJSONBody(t *testing.T) {
	spec := prepare(t, "folders", "create", &CallRequest{BodyParams: Params{"name": "reports"}})

	assert.Equal(t, "POST", spec.Method)
	assert.Equal(t, "https://api.example.com/folders/0", spec.URL)
	assert.Equal(t, "application/json", spec.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", spec.Header.Get("Accept"))
	assert.JSONEq(t, `{"name":"reports","parent":{"id":"0"}}`, string(spec.Body))
	assert.Equal(t, "folders.create", spec.Operation)
}

func TestDispatchFormBody(t *testing.T) {
	spec := prepare(t, "token", "server", &CallRequest{
		ContentType: ContentTypeForm,
		BodyParams:  Params{"grant_type": "refresh_token", "refresh_token": "r t"},
	})

	assert.Equal(t, "https://auth.example.com/oauth2/token", spec.URL)
	assert.Equal(t, "application/x-www-form-urlencoded", spec.Header.Get("Content-Type"))
	assert.Equal(t, "grant_type=refresh_token&refresh_token=r+t", string(spec.Body))
	assert.True(t, spec.Anonymous)
}

func TestDispatchEmptyBody(t *testing.T) {
	spec := prepare(t, "folders", "get", &CallRequest{PathParams: Params{"id": 7}})

	assert.Equal(t, "https://api.example.com/folders/7", spec.URL)
	assert.Nil(t, spec.Body)
	assert.Empty(t, spec.Header.Get("Content-Type"))
}

func TestDispatchBinaryHasNoAccept(t *testing.T) {
	spec := prepare(t, "files", "content", &CallRequest{PathParams: Params{"id": 9}})

	assert.True(t, spec.Binary)
	assert.Empty(t, spec.Header.Get("Accept"))
}

func TestDispatchCallerHeaders(t *testing.T) {
	headers := map[string]string{"Accept": "text/csv", "X-Trace": "abc"}
	spec := prepare(t, "folders", "get", &CallRequest{Headers: headers})

	assert.Equal(t, "text/csv", spec.Header.Get("Accept"))
	assert.Equal(t, "abc", spec.Header.Get("X-Trace"))

	spec.Header.Set("X-Trace", "changed")
	assert.Equal(t, "abc", headers["X-Trace"])
}

func TestDispatchUnencodableBody(t *testing.T) {
	api, err := Compile("https://api.example.com", boxRoutes(), nil)
	require.NoError(t, err)
	op, _ := api.Operation("folders", "create")

	_, _, err = op.Prepare(&CallRequest{BodyParams: Params{"size": math.Inf(1)}})
	assert.ErrorIs(t, err, ErrConfiguration)
}
