// routes.go
// ---------
// A route table is the declarative description of a vendor API: resources,
// each with an endpoint template and a list of methods. Compile turns it into
// an API whose operations are looked up by (resource, method id).
//
// Compilation validates the whole table eagerly and performs no I/O. Method
// defaults are copied into the operation at compile time and merged
// non-destructively on every call, so calls never leak state into each other.
package resilientrest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// RouteTable maps a resource name to its definition.
type RouteTable map[string]ResourceDef

// ResourceDef describes one resource of a vendor API.
type ResourceDef struct {
	Endpoint string `yaml:"endpoint"`
	// BaseURL overrides the client base URL for this resource.
	BaseURL    string      `yaml:"baseUrl,omitempty"`
	PathParams Params      `yaml:"path_params,omitempty"`
	Methods    []MethodDef `yaml:"methods"`
}

// MethodDef describes one callable method of a resource.
type MethodDef struct {
	ID string `yaml:"id"`
	// Method is the HTTP method, GET when empty.
	Method      string `yaml:"method,omitempty"`
	Path        string `yaml:"path,omitempty"`
	QueryParams Params `yaml:"query_params,omitempty"`
	BodyParams  Params `yaml:"body_params,omitempty"`
	// Pinned lists query/body keys whose declared default cannot be overridden by callers.
	Pinned    []string `yaml:"pinned,omitempty"`
	Binary    bool     `yaml:"binaryBody,omitempty"`
	Anonymous bool     `yaml:"anonymous,omitempty"`

	OnResult func(*Response) `yaml:"-"`
}

// Invoker executes a dispatched request on behalf of an operation.
type Invoker interface {
	Invoke(ctx context.Context, op *Operation, spec *RequestSpec, call *CallRequest) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, op *Operation, spec *RequestSpec, call *CallRequest) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, op *Operation, spec *RequestSpec, call *CallRequest) (*Response, error) {
	return f(ctx, op, spec, call)
}

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// API is the compiled, read-only call surface of a route table.
type API struct {
	baseURL   string
	resources map[string]map[string]*Operation
}

// Compile validates table and builds its API. Every problem in the table is
// reported at once as a single configuration error.
func Compile(baseURL string, table RouteTable, inv Invoker) (*API, error) {
	var result *multierror.Error
	if len(table) == 0 {
		result = multierror.Append(result, fmt.Errorf("route table is empty"))
	}

	api := &API{
		baseURL:   strings.TrimRight(baseURL, "/"),
		resources: make(map[string]map[string]*Operation, len(table)),
	}
	for name, res := range table {
		if res.Endpoint == "" && res.BaseURL == "" {
			result = multierror.Append(result, fmt.Errorf("resource %q: endpoint is required", name))
		}
		if len(res.Methods) == 0 {
			result = multierror.Append(result, fmt.Errorf("resource %q: at least one method is required", name))
			continue
		}

		ops := make(map[string]*Operation, len(res.Methods))
		for i, m := range res.Methods {
			if m.ID == "" {
				result = multierror.Append(result, fmt.Errorf("resource %q: method #%d has no id", name, i))
				continue
			}
			if _, dup := ops[m.ID]; dup {
				result = multierror.Append(result, fmt.Errorf("resource %q: duplicate method id %q", name, m.ID))
				continue
			}
			method := strings.ToUpper(m.Method)
			if method == "" {
				method = http.MethodGet
			}
			if !knownMethods[method] {
				result = multierror.Append(result, fmt.Errorf("resource %q: method %q: unknown HTTP method %q", name, m.ID, m.Method))
				continue
			}

			base := api.baseURL
			if res.BaseURL != "" {
				base = strings.TrimRight(res.BaseURL, "/")
			}
			ops[m.ID] = &Operation{
				Resource:      name,
				ID:            m.ID,
				Method:        method,
				Endpoint:      res.Endpoint + m.Path,
				BaseURL:       base,
				pathDefaults:  res.PathParams.Clone(),
				queryDefaults: m.QueryParams.Clone(),
				bodyDefaults:  m.BodyParams.Clone(),
				pinned:        append([]string(nil), m.Pinned...),
				binary:        m.Binary,
				anonymous:     m.Anonymous,
				onResult:      m.OnResult,
				invoker:       inv,
			}
		}
		api.resources[name] = ops
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, &Error{Kind: KindConfiguration, Err: err}
	}
	return api, nil
}

// Operation returns the compiled operation for (resource, id).
func (a *API) Operation(resource, id string) (*Operation, bool) {
	op, ok := a.resources[resource][id]
	return op, ok
}

// Call invokes the operation (resource, id). An unknown pair is a
// configuration error.
func (a *API) Call(ctx context.Context, resource, id string, call *CallRequest) (*Response, error) {
	op, ok := a.Operation(resource, id)
	if !ok {
		return nil, configError("unknown operation %s.%s", resource, id)
	}
	return op.Call(ctx, call)
}

// Resources returns the sorted resource names.
func (a *API) Resources() []string {
	out := make([]string, 0, len(a.resources))
	for name := range a.resources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Methods returns the sorted method ids of a resource.
func (a *API) Methods(resource string) []string {
	ops := a.resources[resource]
	out := make([]string, 0, len(ops))
	for id := range ops {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Operation is one compiled (resource, method) pair.
type Operation struct {
	Resource string
	ID       string
	Method   string
	Endpoint string
	BaseURL  string

	pathDefaults  Params
	queryDefaults Params
	bodyDefaults  Params
	pinned        []string
	binary        bool
	anonymous     bool
	onResult      func(*Response)
	invoker       Invoker
}

// Name returns "resource.id".
func (o *Operation) Name() string {
	return o.Resource + "." + o.ID
}

// Binary reports whether the operation transfers its response without text decoding.
func (o *Operation) Binary() bool { return o.binary }

// Merge returns a fresh CallRequest holding the operation defaults merged
// with call. Caller values win except for pinned keys.
func (o *Operation) Merge(call *CallRequest) *CallRequest {
	if call == nil {
		call = &CallRequest{}
	}
	merged := &CallRequest{
		PathParams:  mergePinned(o.pathDefaults, call.PathParams, nil),
		QueryParams: mergePinned(o.queryDefaults, call.QueryParams, o.pinned),
		BodyParams:  mergePinned(o.bodyDefaults, call.BodyParams, o.pinned),
		ContentType: call.ContentType,
		OnResult:    call.OnResult,
	}
	if merged.OnResult == nil {
		merged.OnResult = o.onResult
	}
	if len(call.Headers) > 0 {
		merged.Headers = make(map[string]string, len(call.Headers))
		for k, v := range call.Headers {
			merged.Headers[k] = v
		}
	}
	return merged
}

// Prepare merges call with the defaults and dispatches it into a RequestSpec
// without sending anything.
func (o *Operation) Prepare(call *CallRequest) (*RequestSpec, *CallRequest, error) {
	merged := o.Merge(call)
	spec, err := Dispatch(o, merged)
	if err != nil {
		return nil, nil, err
	}
	return spec, merged, nil
}

// Call merges, dispatches and invokes the operation.
func (o *Operation) Call(ctx context.Context, call *CallRequest) (*Response, error) {
	if o.invoker == nil {
		return nil, &Error{Kind: KindConfiguration, Op: o.Name(), Err: fmt.Errorf("operation is not bound to a client")}
	}
	spec, merged, err := o.Prepare(call)
	if err != nil {
		return nil, err
	}
	return o.invoker.Invoke(ctx, o, spec, merged)
}
