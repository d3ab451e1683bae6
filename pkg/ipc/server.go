package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/rexliu/vsockpep/pkg/core"
)

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Server answers framed fetch requests on accepted connections. Requests are
// routed by method: registered methods (such as HEALTH) get their own
// handler, everything else goes to the fallback.
type Server struct {
	ln       net.Listener
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback HandlerFunc
	closed   bool
	logger   Logger
	conns    sync.WaitGroup
	live     map[net.Conn]struct{}
	maxFrame uint32
}

// NewServer constructs a server whose unrouted requests go to fallback.
func NewServer(fallback HandlerFunc, logger Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		live:     make(map[net.Conn]struct{}),
		fallback: fallback,
		logger:   logger,
	}
}

// Register installs a handler for a method. Method matching is case-insensitive.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(method)] = handler
}

// SetMaxFrame bounds the request frames the server will read.
func (s *Server) SetMaxFrame(limit uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxFrame = limit
}

// Start begins accepting connections on ln in the background.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	if s == nil {
		return errors.New("nil server")
	}
	if ln == nil {
		return errors.New("nil listener")
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logf("accept error: %v", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go func() {
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// track registers an accepted connection so Stop can close it. It refuses
// once the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.live[conn] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.live, conn)
	s.mu.Unlock()
	s.conns.Done()
}

// handleConn serves frames until the peer closes. The client opens one
// connection per request, but nothing here relies on that.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := ReadFrameLimit(conn, s.frameLimit())
		if err != nil {
			if !s.isClosed() && (core.KindOf(err) != core.KindShortRead || !errors.Is(err, core.ErrShortHeader)) {
				s.logf("read request: %v", err)
			}
			return
		}
		var req core.LooseRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.writeResponse(conn, ErrorResponse("invalid_request", "invalid json"))
			continue
		}
		wire, err := core.NormalizeRequest(req)
		if err != nil {
			_, message := core.Code(err)
			s.writeResponse(conn, ErrorResponse("invalid_request", message))
			continue
		}
		resp := s.lookupHandler(wire.Method)(ctx, wire)
		if err := s.writeResponse(conn, resp); err != nil {
			s.logf("write response: %v", err)
			return
		}
	}
}

func (s *Server) frameLimit() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxFrame
}

func (s *Server) lookupHandler(method string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if handler, ok := s.handlers[strings.ToUpper(method)]; ok {
		return handler
	}
	if s.fallback != nil {
		return s.fallback
	}
	return func(context.Context, core.WireRequest) any {
		return ErrorResponse("invalid_request", "unknown method")
	}
}

func (s *Server) writeResponse(conn net.Conn, resp any) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload, _ = json.Marshal(ErrorResponse("internal_error", err.Error()))
	}
	return WriteFrame(conn, payload)
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return. A request being handled when Stop is
// called loses its reply.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.live {
		conn.Close()
	}
	s.mu.Unlock()
	s.conns.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
