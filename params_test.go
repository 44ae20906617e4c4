package resilientrest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeParams(t *testing.T) {
	tests := []struct {
		name      string
		defaults  Params
		overrides Params
		overwrite bool
		want      Params
	}{
		{"both nil", nil, nil, false, nil},
		{"defaults only", Params{"a": 1}, nil, false, Params{"a": 1}},
		{"overrides only", nil, Params{"b": 2}, false, Params{"b": 2}},
		{"default kept", Params{"a": 1}, Params{"a": 9, "b": 2}, false, Params{"a": 1, "b": 2}},
		{"override wins", Params{"a": 1}, Params{"a": 9, "b": 2}, true, Params{"a": 9, "b": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeParams(tt.defaults, tt.overrides, tt.overwrite))
		})
	}
}

func TestMergeParamsDoesNotAlias(t *testing.T) {
	defaults := Params{"nested": Params{"x": 1}, "list": []any{"a"}}
	overrides := Params{"extra": map[string]any{"y": 2}}

	out := MergeParams(defaults, overrides, false)
	out["nested"].(Params)["x"] = 100
	out["list"].([]any)[0] = "changed"
	out["extra"].(map[string]any)["y"] = 200
	out["new"] = true

	assert.Equal(t, Params{"nested": Params{"x": 1}, "list": []any{"a"}}, defaults)
	assert.Equal(t, Params{"extra": map[string]any{"y": 2}}, overrides)
}

func TestMergePinned(t *testing.T) {
	out := mergePinned(Params{"type": "file", "limit": 10}, Params{"type": "folder", "limit": 5}, []string{"type"})
	assert.Equal(t, Params{"type": "file", "limit": 5}, out)
}

func TestReplacePathParams(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		params   Params
		want     string
	}{
		{"no params", "/folders/:id/items", nil, "/folders/:id/items"},
		{"single", "/folders/:id/items", Params{"id": 0}, "/folders/0/items"},
		{"several", "/repos/:owner/:repo", Params{"owner": "octo", "repo": "hello"}, "/repos/octo/hello"},
		{"unknown kept", "/repos/:owner/:repo", Params{"owner": "octo"}, "/repos/octo/:repo"},
		{"escaped", "/files/:name", Params{"name": "a b/c"}, "/files/a%20b%2Fc"},
		{"nil value kept", "/files/:name", Params{"name": nil}, "/files/:name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplacePathParams(tt.endpoint, tt.params))
		})
	}
}

func TestEncodeValues(t *testing.T) {
	vals := encodeValues(Params{
		"fields": []string{"id", "name"},
		"limit":  100,
		"empty":  nil,
	})
	assert.Equal(t, "empty=&fields=id&fields=name&limit=100", vals.Encode())
}
