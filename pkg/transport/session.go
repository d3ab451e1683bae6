package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"time"

	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/ipc"
)

const (
	// DefaultTimeout bounds one whole attempt: connect, send and receive.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxFrameBytes caps the response frame the session will read.
	DefaultMaxFrameBytes uint32 = 16 << 20
)

// Logger is the subset of logging.Logger the session uses.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
}

// Session performs single request/response exchanges against one endpoint.
// It holds configuration only; every Exchange opens and closes its own
// connection.
type Session struct {
	Endpoint      Endpoint
	Timeout       time.Duration
	MaxFrameBytes uint32
	Dialer        Dialer
	Logger        Logger
}

// NewSession returns a session for endpoint with the default dialer and limits.
func NewSession(endpoint Endpoint, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		Endpoint:      endpoint,
		Timeout:       timeout,
		MaxFrameBytes: DefaultMaxFrameBytes,
		Dialer:        NetDialer{},
	}
}

// Exchange sends req and returns the stub's parsed, uninterpreted reply.
func (s *Session) Exchange(ctx context.Context, req core.WireRequest) (core.WireResponse, error) {
	reply, err := s.RoundTrip(ctx, req)
	if err != nil {
		return core.WireResponse{}, err
	}
	return core.ParseResponse(reply)
}

// RoundTrip sends req and returns the raw reply payload. The connection is
// closed on every path out of this function.
func (s *Session) RoundTrip(ctx context.Context, req core.WireRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, core.Wrap(core.KindInvalidRequest, "encode request", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := s.Dialer
	if dialer == nil {
		dialer = NetDialer{}
	}
	conn, err := dialer.DialContext(ctx, s.Endpoint)
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			return nil, core.Wrap(core.KindTimeout, "connect "+s.Endpoint.String(), err)
		}
		return nil, core.Wrap(core.KindConnect, "connect "+s.Endpoint.String(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, core.Wrap(core.KindTransport, "set deadline", err)
		}
	}
	// Closing the conn unblocks I/O if ctx is cancelled by the caller
	// rather than by the deadline.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := ipc.WriteFrame(conn, payload); err != nil {
		return nil, classify(ctx, "send request", err)
	}
	s.debug("request sent", "endpoint", s.Endpoint.String(), "bytes", len(payload))

	reply, err := ipc.ReadFrameLimit(conn, s.MaxFrameBytes)
	if err != nil {
		return nil, classify(ctx, "receive response", err)
	}
	s.debug("response received", "endpoint", s.Endpoint.String(), "bytes", len(reply))

	return reply, nil
}

func (s *Session) debug(msg string, kv ...any) {
	if s.Logger != nil {
		s.Logger.Debugw(msg, kv...)
	}
}

// classify maps an I/O failure on an open connection onto the taxonomy.
// Errors already classified by the frame codec keep their kind.
func classify(ctx context.Context, op string, err error) error {
	var e *core.Error
	if errors.As(err, &e) {
		if e.Kind == core.KindShortRead && ctx.Err() != nil {
			return core.Wrap(core.KindTimeout, op, err)
		}
		return err
	}
	if isTimeout(err) || ctx.Err() != nil {
		return core.Wrap(core.KindTimeout, op, err)
	}
	return core.Wrap(core.KindTransport, op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
