// Package routefile loads declarative route tables from YAML (or JSON)
// documents.
//
// A route file names the vendor, its base URL and its resources:
//
//	name: github
//	baseUrl: https://api.github.com
//	resources:
//	  issues:
//	    endpoint: /repos/:owner/:repo/issues
//	    methods:
//	      - id: list
//	        query_params: {state: open}
//	      - id: create
//	        method: POST
package routefile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	resilientrest "github.com/opengovern/resilient-rest"
)

var (
	ErrFileNotFound = errors.New("route file not found")
	ErrEmptyFile    = errors.New("route file is empty")
	ErrInvalidYAML  = errors.New("invalid YAML syntax")
)

// File is the document form of a route table.
type File struct {
	Name      string                   `yaml:"name"`
	BaseURL   string                   `yaml:"baseUrl,omitempty"`
	Resources resilientrest.RouteTable `yaml:"resources"`
}

// Parse decodes a route file. Structural validation is left to
// resilientrest.Compile, which reports every problem at once.
func Parse(data []byte) (*File, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyFile
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	f.Resources = normalize(f.Resources)
	return &f, nil
}

// Load reads the route file at path from fsys.
func Load(fsys afero.Fs, path string) (*File, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// LoadDir loads every .yaml, .yml and .json file of dir, keyed by vendor name.
func LoadDir(fsys afero.Fs, dir string) (map[string]*File, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make(map[string]*File, len(names))
	for _, name := range names {
		f, err := Load(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if _, dup := out[f.Name]; dup {
			return nil, fmt.Errorf("duplicate route file for %q in %s", f.Name, dir)
		}
		out[f.Name] = f
	}
	return out, nil
}

// normalize converts the nested maps produced by the YAML decoder into
// Params so that JSON bodies encode them the same way as Go callers do.
func normalize(table resilientrest.RouteTable) resilientrest.RouteTable {
	for name, res := range table {
		res.PathParams = normalizeParams(res.PathParams)
		for i := range res.Methods {
			res.Methods[i].QueryParams = normalizeParams(res.Methods[i].QueryParams)
			res.Methods[i].BodyParams = normalizeParams(res.Methods[i].BodyParams)
		}
		table[name] = res
	}
	return table
}

func normalizeParams(p resilientrest.Params) resilientrest.Params {
	for k, v := range p {
		p[k] = normalizeValue(v)
	}
	return p
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeParams(resilientrest.Params(t))
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	}
	return v
}
