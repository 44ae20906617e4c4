package resilientrest

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Dispatch turns a merged call into a RequestSpec for op.
//
// Path tokens without a value are left in the URL; the server is the one to
// reject them. Form content type URL-encodes the body, otherwise a non-empty
// body is sent as JSON. An empty body sends no Content-Type.
func Dispatch(op *Operation, call *CallRequest) (*RequestSpec, error) {
	spec := &RequestSpec{
		Operation: op.Name(),
		Method:    op.Method,
		Header:    http.Header{},
		Binary:    op.binary,
		Anonymous: op.anonymous,
	}
	for k, v := range call.Headers {
		spec.Header.Set(k, v)
	}

	endpoint := ReplacePathParams(op.Endpoint, call.PathParams)
	spec.URL = op.BaseURL + endpoint
	if len(call.QueryParams) > 0 {
		spec.URL += "?" + encodeValues(call.QueryParams).Encode()
	}

	if len(call.BodyParams) > 0 {
		if call.ContentType == ContentTypeForm {
			spec.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			spec.Body = []byte(encodeValues(call.BodyParams).Encode())
		} else {
			body, err := json.Marshal(call.BodyParams)
			if err != nil {
				return nil, &Error{Kind: KindConfiguration, Op: op.Name(), Err: fmt.Errorf("encode body: %w", err)}
			}
			spec.Header.Set("Content-Type", "application/json")
			spec.Body = body
		}
	}

	if !op.binary && spec.Header.Get("Accept") == "" {
		spec.Header.Set("Accept", "application/json")
	}
	return spec, nil
}
