package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can tell transport trouble from
// policy denial from a malformed response.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidRequest: the caller's request could not be normalized.
	KindInvalidRequest
	// KindShortRead: the stream ended inside a frame header or payload.
	KindShortRead
	// KindConnect: the connection could not be established.
	KindConnect
	// KindTimeout: the per-attempt deadline passed.
	KindTimeout
	// KindTransport: any other read/write failure on an open connection.
	KindTransport
	// KindParse: the response was not JSON or lacked required fields.
	KindParse
	// KindRemoteDenied: the stub answered with an error-shaped response.
	KindRemoteDenied
	// KindBodyDecode: body_base64 was present but not valid base64.
	KindBodyDecode
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown_error",
	KindInvalidRequest: "invalid_request",
	KindShortRead:      "short_read",
	KindConnect:        "connect_failure",
	KindTimeout:        "timeout",
	KindTransport:      "transport_error",
	KindParse:          "parse_failure",
	KindRemoteDenied:   "remote_denied",
	KindBodyDecode:     "body_decode_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Remote error codes with a known meaning. The vocabulary is open: stubs
// may return codes not listed here and those pass through untouched.
const (
	CodeDeniedByPolicy = "denied_by_policy"
	CodeVsockError     = "vsock_error"
	CodeUnknownError   = "unknown_error"

	defaultRemoteMessage = "unknown error"
)

var (
	// ErrShortHeader marks a stream that ended before 4 header bytes arrived.
	ErrShortHeader = errors.New("short read on length header")
	// ErrShortPayload marks a stream that ended before the declared payload length.
	ErrShortPayload = errors.New("short read on payload")
	// ErrFrameTooLarge marks a declared frame length above the reader's limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// Error is the single structured error type crossing package boundaries.
// Code and Message are only meaningful for KindRemoteDenied, where they hold
// the stub's error object verbatim.
type Error struct {
	Kind    Kind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindRemoteDenied {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a deadline failure, matching net.Error.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// Errorf builds an Error of the given kind wrapping a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Denied builds the error for an error-shaped stub response.
func Denied(code, message string) *Error {
	return &Error{Kind: KindRemoteDenied, Code: code, Message: message}
}

// KindOf extracts the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether another attempt could plausibly succeed.
// Denials and bad input are final; everything that went wrong on the wire,
// including an unparseable reply, is worth another connection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindInvalidRequest, KindRemoteDenied, KindBodyDecode:
		return false
	}
	return true
}

// Code returns the code and message a caller should show for err. Denials
// keep the stub's own code; local failures are named by kind.
func Code(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindRemoteDenied {
			return e.Code, e.Message
		}
		return e.Kind.String(), strings.TrimPrefix(e.Error(), e.Kind.String()+": ")
	}
	return CodeUnknownError, err.Error()
}
