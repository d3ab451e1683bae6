package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LooseRequest is a request as a caller describes it: headers may arrive as
// an object or as pairs, and method/url may be missing entirely.
type LooseRequest struct {
	Method     *string `json:"method" validate:"required"`
	URL        *string `json:"url" validate:"required"`
	Headers    Headers `json:"headers"`
	BodyBase64 *string `json:"body_base64"`
}

// NormalizeRequest turns a loose description into the canonical request.
// The body stays base64-encoded; URL contents are left to the stub.
func NormalizeRequest(loose LooseRequest) (WireRequest, error) {
	if err := validateLoose(loose); err != nil {
		return WireRequest{}, err
	}
	headers := make(Headers, len(loose.Headers))
	copy(headers, loose.Headers)
	return WireRequest{
		Method:     *loose.Method,
		URL:        *loose.URL,
		Headers:    headers,
		BodyBase64: loose.BodyBase64,
	}, nil
}

// ParseRequest decodes a JSON request object and normalizes it.
func ParseRequest(data []byte) (WireRequest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return WireRequest{}, Errorf(KindInvalidRequest, "parse request", "empty input")
	}
	var loose LooseRequest
	if err := json.Unmarshal(trimmed, &loose); err != nil {
		return WireRequest{}, Wrap(KindInvalidRequest, "parse request", err)
	}
	return NormalizeRequest(loose)
}

// NewRequest builds a canonical request from already-typed parts, as the
// CLI does. A nil body means no body.
func NewRequest(method, url string, headers Headers, body []byte) (WireRequest, error) {
	loose := LooseRequest{Method: &method, URL: &url, Headers: headers}
	if body != nil {
		encoded := EncodeBody(body)
		loose.BodyBase64 = &encoded
	}
	req, err := NormalizeRequest(loose)
	if err != nil {
		return WireRequest{}, fmt.Errorf("new request: %w", err)
	}
	return req, nil
}
