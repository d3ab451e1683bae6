package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interpretJSON(t *testing.T, payload string) (*Response, error) {
	t.Helper()
	wire, err := ParseResponse([]byte(payload))
	require.NoError(t, err)
	return Interpret(wire)
}

func TestInterpret(t *testing.T) {
	t.Run("denial", func(t *testing.T) {
		resp, err := interpretJSON(t, `{"error":{"code":"denied_by_policy","message":"x"}}`)
		assert.Nil(t, resp)
		var e *Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, KindRemoteDenied, e.Kind)
		assert.Equal(t, "denied_by_policy", e.Code)
		assert.Equal(t, "x", e.Message)
	})

	t.Run("denial wins over success fields", func(t *testing.T) {
		resp, err := interpretJSON(t, `{"status":200,"headers":[],"body_base64":null,"error":{"code":"denied_by_policy","message":"x"}}`)
		assert.Nil(t, resp)
		assert.Equal(t, KindRemoteDenied, KindOf(err))
	})

	t.Run("denial defaults", func(t *testing.T) {
		_, err := interpretJSON(t, `{"error":{"detail":"?"}}`)
		code, message := Code(err)
		assert.Equal(t, "unknown_error", code)
		assert.Equal(t, "unknown error", message)
	})

	t.Run("denial as bare string", func(t *testing.T) {
		_, err := interpretJSON(t, `{"error":"boom"}`)
		code, message := Code(err)
		assert.Equal(t, "unknown_error", code)
		assert.Equal(t, "boom", message)
	})

	for _, absent := range []string{`{}`, `{ }`, `null`, `""`, `false`, `[]`} {
		t.Run("error "+absent+" is not a denial", func(t *testing.T) {
			resp, err := interpretJSON(t, `{"status":204,"error":`+absent+`}`)
			require.NoError(t, err)
			assert.Equal(t, 204, resp.Status)
		})
	}

	t.Run("success with null body", func(t *testing.T) {
		resp, err := interpretJSON(t, `{"status":200,"headers":[],"body_base64":null}`)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Status)
		assert.NotNil(t, resp.Body)
		assert.Empty(t, resp.Body)
		assert.Empty(t, resp.Headers)
	})

	t.Run("success with body and headers", func(t *testing.T) {
		resp, err := interpretJSON(t, `{"status":200,"headers":[["content-type","text/html"]],"body_base64":"PGgxPmhpPC9oMT4="}`)
		require.NoError(t, err)
		assert.Equal(t, []byte("<h1>hi</h1>"), resp.Body)
		v, ok := resp.Headers.Get("content-type")
		assert.True(t, ok)
		assert.Equal(t, "text/html", v)
	})

	t.Run("missing status", func(t *testing.T) {
		_, err := interpretJSON(t, `{"headers":[]}`)
		assert.Equal(t, KindParse, KindOf(err))
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := interpretJSON(t, `{"status":200,"body_base64":"not base64!"}`)
		assert.Equal(t, KindBodyDecode, KindOf(err))
	})
}

func TestParseResponseRejectsNonJSON(t *testing.T) {
	_, err := ParseResponse([]byte("<html>"))
	assert.Equal(t, KindParse, KindOf(err))
}

func TestEnvelope(t *testing.T) {
	denied := Envelope(nil, Denied("denied_by_policy", "nope"))
	assert.Equal(t, ErrorEnvelope{Error: ErrorBody{Code: "denied_by_policy", Message: "nope"}}, denied)

	ok := Envelope(&Response{Status: 200, Headers: Headers{}, Body: []byte{}}, nil)
	assert.Equal(t, SuccessEnvelope{Status: 200, Headers: Headers{}}, ok)
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindConnect, "dial vsock 2:4040", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(Denied(CodeDeniedByPolicy, "x")))
	assert.False(t, IsRetryable(Errorf(KindInvalidRequest, "", "bad")))
	assert.Nil(t, Wrap(KindTimeout, "x", nil))

	code, message := Code(err)
	assert.Equal(t, "connect_failure", code)
	assert.Equal(t, "dial vsock 2:4040: connection refused", message)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello", Preview([]byte("hello world"), 5))
	assert.Equal(t, "a\uFFFDb", Preview([]byte{'a', 0xff, 'b'}, 10))
	// "é" is two bytes; cutting after the first leaves an invalid byte.
	assert.Equal(t, "\uFFFD", Preview([]byte("é"), 1))
	assert.Equal(t, "", Preview(nil, PreviewBytes))
}

func TestPreviewReplacesIllFormedSubsequences(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"incomplete three-byte", []byte{'a', 0xE2, 0x82, 'b'}, "a\uFFFDb"},
		{"incomplete four-byte at end", []byte{'x', 0xF0, 0x9F, 0x98}, "x\uFFFD"},
		{"stray bytes", []byte{0xFF, 0xFE, 'z'}, "\uFFFD\uFFFDz"},
		{"lone continuation", []byte{0x80, 0x80}, "\uFFFD\uFFFD"},
		{"surrogate", []byte{0xED, 0xA0, 0x80}, "\uFFFD\uFFFD\uFFFD"},
		{"overlong", []byte{0xE0, 0x80, 0x80}, "\uFFFD\uFFFD\uFFFD"},
		{"lead followed by lead", []byte{0xE2, 0xE2, 0x82, 0xAC}, "\uFFFD\u20AC"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Preview(tc.in, PreviewBytes))
		})
	}
	// A four-byte rune cut after three bytes is one replacement.
	assert.Equal(t, "ok\uFFFD", Preview([]byte("ok\U0001F600"), 5))
}
