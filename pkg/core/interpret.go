package core

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

// ParseResponse decodes a response frame payload. It only checks that the
// payload is a JSON object; shape is Interpret's concern.
func ParseResponse(payload []byte) (WireResponse, error) {
	var resp WireResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return WireResponse{}, Wrap(KindParse, "decode response", err)
	}
	return resp, nil
}

// Interpret decides whether resp is a denial or a success. A denial is
// returned as a KindRemoteDenied error and the success fields are ignored.
func Interpret(resp WireResponse) (*Response, error) {
	if present(resp.Error) {
		return nil, deniedFrom(resp.Error)
	}
	if resp.Status == nil {
		return nil, Errorf(KindParse, "interpret response", "missing status")
	}
	body, err := decodeBody(resp.BodyBase64)
	if err != nil {
		return nil, err
	}
	headers := resp.Headers
	if headers == nil {
		headers = Headers{}
	}
	return &Response{Status: *resp.Status, Headers: headers, Body: body}, nil
}

// present treats null, {}, "", false, 0 and [] as an absent error field.
func present(raw json.RawMessage) bool {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return len(bytes.TrimSpace(raw)) > 0
	}
	switch compact.String() {
	case "", "null", "{}", `""`, "false", "0", "[]":
		return false
	}
	return true
}

func deniedFrom(raw json.RawMessage) *Error {
	var body struct {
		Code    *string `json:"code"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		// Not an object; keep whatever the stub sent as the message.
		var text string
		if json.Unmarshal(raw, &text) != nil {
			text = string(bytes.TrimSpace(raw))
		}
		return Denied(CodeUnknownError, text)
	}
	code, message := CodeUnknownError, defaultRemoteMessage
	if body.Code != nil {
		code = *body.Code
	}
	if body.Message != nil {
		message = *body.Message
	}
	return Denied(code, message)
}

func decodeBody(encoded *string) ([]byte, error) {
	if encoded == nil || *encoded == "" {
		return []byte{}, nil
	}
	body, err := base64.StdEncoding.DecodeString(*encoded)
	if err != nil {
		return nil, Wrap(KindBodyDecode, "decode body", err)
	}
	return body, nil
}

// EncodeBody base64-encodes a body for the wire.
func EncodeBody(body []byte) string {
	return base64.StdEncoding.EncodeToString(body)
}

// Envelope renders an interpreted outcome back into its wire shape: the
// success object for a response, the error object for a denial.
func Envelope(resp *Response, err error) any {
	if err != nil {
		code, message := Code(err)
		return ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}}
	}
	var encoded *string
	if len(resp.Body) > 0 {
		s := EncodeBody(resp.Body)
		encoded = &s
	}
	return SuccessEnvelope{Status: resp.Status, Headers: resp.Headers, BodyBase64: encoded}
}
