package resilientrest

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
)

// Params is a set of named request parameters. Values are scalars, nested
// Params/maps (JSON bodies only) or slices.
type Params map[string]any

var pathToken = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// MergeParams returns a new map holding every key of defaults and overrides.
// For a key present in both, the default is kept unless overwrite is set.
// Neither input is modified and nested values are deep-copied, so the result
// can be mutated freely.
func MergeParams(defaults, overrides Params, overwrite bool) Params {
	if defaults == nil && overrides == nil {
		return nil
	}
	out := make(Params, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = cloneValue(v)
	}
	for k, v := range overrides {
		if _, ok := out[k]; ok && !overwrite {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// mergePinned merges with caller precedence, except for the pinned keys
// whose declared default always wins.
func mergePinned(defaults, overrides Params, pinned []string) Params {
	out := MergeParams(defaults, overrides, true)
	for _, k := range pinned {
		if v, ok := defaults[k]; ok {
			out[k] = cloneValue(v)
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return cloneValue(p).(Params)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Params:
		out := make(Params, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// ReplacePathParams substitutes every ":name" token of endpoint that has a
// value in params. Tokens without a value are left verbatim.
func ReplacePathParams(endpoint string, params Params) string {
	if len(params) == 0 {
		return endpoint
	}
	return pathToken.ReplaceAllStringFunc(endpoint, func(tok string) string {
		v, ok := params[tok[1:]]
		if !ok || v == nil {
			return tok
		}
		return url.PathEscape(fmt.Sprint(v))
	})
}

// encodeValues flattens params into url.Values. Slices become repeated keys.
func encodeValues(params Params) url.Values {
	vals := make(url.Values, len(params))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := params[k]
		if v == nil {
			vals.Set(k, "")
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				vals.Add(k, fmt.Sprint(rv.Index(i).Interface()))
			}
			continue
		}
		vals.Set(k, fmt.Sprint(v))
	}
	return vals
}
