// Package client runs one fetch through the stub: exchange under a retry
// policy, interpret the reply, journal the outcome.
package client

import (
	"context"
	"time"

	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/logging"
	"github.com/rexliu/vsockpep/pkg/retry"
	"github.com/rexliu/vsockpep/pkg/storage/sqlite"
	"github.com/rexliu/vsockpep/pkg/transport"
)

// Exchanger performs one connect-send-receive cycle.
type Exchanger interface {
	Exchange(ctx context.Context, req core.WireRequest) (core.WireResponse, error)
}

// Recorder stores fetch outcomes. *sqlite.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e sqlite.Entry) error
}

// Client is configured once and used for a single fetch per invocation,
// though nothing prevents reuse.
type Client struct {
	session  Exchanger
	policy   retry.Policy
	journal  Recorder
	logger   *logging.Logger
	mode     string
	endpoint string
	now      func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithJournal records every fetch in r.
func WithJournal(r Recorder) Option {
	return func(c *Client) { c.journal = r }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMode labels journal entries ("bridge", "fetch", ...).
func WithMode(mode string) Option {
	return func(c *Client) { c.mode = mode }
}

// WithEndpoint names the endpoint in logs and journal entries.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// New returns a client exchanging through session under policy.
func New(session Exchanger, policy retry.Policy, opts ...Option) *Client {
	c := &Client{
		session: session,
		policy:  policy,
		logger:  logging.Nop(),
		mode:    "fetch",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSession builds the transport session described by cfg.
func NewSession(cfg config.RemoteConfig, logger *logging.Logger) *transport.Session {
	session := transport.NewSession(EndpointFor(cfg), cfg.Timeout)
	session.MaxFrameBytes = cfg.MaxFrameBytes
	if logger != nil {
		session.Logger = logger
	}
	return session
}

// EndpointFor converts remote configuration into a transport endpoint.
func EndpointFor(cfg config.RemoteConfig) transport.Endpoint {
	return transport.Endpoint{
		Network: cfg.Transport,
		CID:     cfg.CID,
		Port:    cfg.Port,
		Address: cfg.Address,
	}
}

// Result describes a finished fetch. ID and Attempts are set even when the
// fetch failed.
type Result struct {
	ID       string
	Attempts int
	Response *core.Response
}

// Fetch sends req and interprets the reply. A stub denial comes back as a
// core.KindRemoteDenied error and is never retried.
func (c *Client) Fetch(ctx context.Context, req core.WireRequest) (*Result, error) {
	result := &Result{ID: core.NewExchangeID()}
	started := c.now()
	log := c.logger.With("exchange", result.ID, "method", req.Method, "url", req.URL)

	resp, attempts, err := retry.Value(ctx, c.policy, func(ctx context.Context, attempt int) (*core.Response, error) {
		wire, err := c.session.Exchange(ctx, req)
		if err == nil {
			// A reply missing its status is retried like any garbled frame;
			// denials and undecodable bodies are final.
			var resp *core.Response
			if resp, err = core.Interpret(wire); err == nil {
				log.Debugw("attempt succeeded", "attempt", attempt)
				return resp, nil
			}
		}
		if core.KindOf(err) != core.KindRemoteDenied {
			log.Warnw("attempt failed", "attempt", attempt, "endpoint", c.endpoint, "error", err)
		}
		return nil, err
	})
	result.Attempts = attempts
	result.Response = resp

	if err != nil {
		code, _ := core.Code(err)
		log.Infow("fetch failed", "attempts", attempts, "code", code)
	} else {
		log.Infow("fetch complete", "attempts", attempts, "status", result.Response.Status, "bytes", len(result.Response.Body))
	}
	c.record(ctx, req, result, started, err)
	return result, err
}

func (c *Client) record(ctx context.Context, req core.WireRequest, result *Result, started time.Time, fetchErr error) {
	if c.journal == nil {
		return
	}
	entry := sqlite.Entry{
		ID:         result.ID,
		Mode:       c.mode,
		Method:     req.Method,
		URL:        req.URL,
		Endpoint:   c.endpoint,
		Attempts:   result.Attempts,
		StartedAt:  started.UnixMilli(),
		DurationMs: c.now().Sub(started).Milliseconds(),
	}
	if fetchErr != nil {
		entry.Code, entry.Message = core.Code(fetchErr)
	} else {
		entry.Status = result.Response.Status
	}
	// A context that expired during the fetch should not cost us the record.
	if err := c.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warnw("journal write failed", "exchange", result.ID, "error", err)
	}
}
