package resilientrest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// ContentType selects how body parameters are encoded on the wire.
type ContentType string

const (
	ContentTypeJSON ContentType = "json"
	ContentTypeForm ContentType = "form"
)

// CallRequest is the argument of a compiled operation. Every field is
// optional; the maps are merged against the method defaults for each call.
type CallRequest struct {
	PathParams  Params
	QueryParams Params
	BodyParams  Params
	Headers     map[string]string
	ContentType ContentType

	// OnResult, when set, takes precedence over MethodDef.OnResult.
	OnResult func(*Response)
}

// RequestSpec is a fully resolved request, ready to send.
type RequestSpec struct {
	Operation string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	Binary    bool

	// Anonymous requests are exempt from credential injection
	// (e.g. the token endpoint itself).
	Anonymous bool
}

// Clone returns a deep copy of s. Each attempt of a logical call
// sends its own clone so that hooks never observe a previous attempt's mutation.
func (s *RequestSpec) Clone() *RequestSpec {
	c := *s
	c.Header = s.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if s.Body != nil {
		c.Body = append([]byte(nil), s.Body...)
	}
	return &c
}

func (s *RequestSpec) String() string {
	return s.Method + " " + s.URL
}

// Response is the outcome of one HTTP exchange.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte

	// Binary is true when the body was transferred without text decoding.
	Binary bool
}

// Text returns the body as a string. Binary bodies are not valid text and
// yield an empty string.
func (r *Response) Text() string {
	if r == nil || r.Binary {
		return ""
	}
	return string(r.Body)
}

// DecodeJSON unmarshals the body into v. A body that is not the expected
// encoding is a contract mismatch and is reported as ErrResponseParse.
func (r *Response) DecodeJSON(v any) error {
	if r == nil {
		return &Error{Kind: KindResponseParse, Err: fmt.Errorf("no response")}
	}
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &Error{Kind: KindResponseParse, StatusCode: r.StatusCode, Err: err}
	}
	return nil
}

// RateLimitInfo is what a classifier extracted from one response. Missing
// values are nil. Reset times are unix milliseconds.
type RateLimitInfo struct {
	Limit     *int
	Remaining *int
	Used      *int
	ResetAt   *int64
}
