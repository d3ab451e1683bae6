package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MethodHealth is the in-band method the stub answers with a status object
// instead of performing a fetch.
const MethodHealth = "HEALTH"

// Header is a single (name, value) pair. On the wire it is a two-element
// JSON array.
type Header struct {
	Name  string
	Value string
}

// MarshalJSON encodes the pair as ["name","value"].
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

// UnmarshalJSON decodes a two-element string array.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("header pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("header pair: expected 2 elements, got %d", len(pair))
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// Headers is an ordered list of header pairs. Duplicates are allowed.
//
// Decoding accepts either a pair list ([["a","1"]]) or an object
// ({"a":"1"}); objects are converted to pairs in document order. Encoding
// always produces the pair-list form, and never null.
type Headers []Header

// MarshalJSON always emits a list, even when empty.
func (h Headers) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Header(h))
}

// UnmarshalJSON accepts both header shapes.
func (h *Headers) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*h = Headers{}
		return nil
	case trimmed[0] == '[':
		var pairs []Header
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return err
		}
		if pairs == nil {
			pairs = []Header{}
		}
		*h = pairs
		return nil
	case trimmed[0] == '{':
		pairs, err := decodeHeaderObject(trimmed)
		if err != nil {
			return err
		}
		*h = pairs
		return nil
	default:
		return fmt.Errorf("headers: expected object or list of pairs")
	}
}

// decodeHeaderObject walks the object token by token so key order survives.
func decodeHeaderObject(data []byte) (Headers, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	pairs := Headers{}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("headers: unexpected key %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("headers: value for %q: %w", name, err)
		}
		// A repeated key keeps its first position and takes the last value.
		if i, seen := index[name]; seen {
			pairs[i].Value = value
			continue
		}
		index[name] = len(pairs)
		pairs = append(pairs, Header{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Get returns the first value for name (case-sensitive) and whether it was found.
func (h Headers) Get(name string) (string, bool) {
	for _, pair := range h {
		if pair.Name == name {
			return pair.Value, true
		}
	}
	return "", false
}

// WireRequest is the canonical request sent to the stub. Construct it with
// NormalizeRequest or ParseRequest and treat it as immutable.
type WireRequest struct {
	Method     string  `json:"method"`
	URL        string  `json:"url"`
	Headers    Headers `json:"headers"`
	BodyBase64 *string `json:"body_base64"`
}

// WireResponse is a stub response as parsed off the wire, before
// interpretation. Either Error is set or the success fields are; Interpret
// decides which.
type WireResponse struct {
	Status     *int            `json:"status,omitempty"`
	Headers    Headers         `json:"headers,omitempty"`
	BodyBase64 *string         `json:"body_base64,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// ErrorBody is the payload of an error-shaped response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the complete error-shaped response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// SuccessEnvelope is the complete success-shaped response.
type SuccessEnvelope struct {
	Status     int     `json:"status"`
	Headers    Headers `json:"headers"`
	BodyBase64 *string `json:"body_base64"`
}

// Response is an interpreted success response with the body decoded.
type Response struct {
	Status  int
	Headers Headers
	Body    []byte
}
