package client

import (
	"context"
	"fmt"

	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/logging"
	"github.com/rexliu/vsockpep/pkg/retry"
	"github.com/rexliu/vsockpep/pkg/storage/sqlite"
)

// FromConfig assembles a client for cfg: session over cfg.Remote, the
// journal when cfg.Journal.Path is set. The returned close func releases
// the journal and is never nil.
func FromConfig(ctx context.Context, cfg *config.Config, policy retry.Policy, logger *logging.Logger, mode string) (*Client, func() error, error) {
	session := NewSession(cfg.Remote, logger)
	opts := []Option{
		WithLogger(logger),
		WithMode(mode),
		WithEndpoint(session.Endpoint.String()),
	}
	closeFn := func() error { return nil }
	if cfg.Journal.Path != "" {
		store, err := OpenJournal(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, closeFn, err
		}
		opts = append(opts, WithJournal(store))
		closeFn = store.Close
	}
	return New(session, policy, opts...), closeFn, nil
}

// OpenJournal opens and initializes the SQLite journal at path.
func OpenJournal(ctx context.Context, path string) (*sqlite.Store, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return store, nil
}

// PolicyFor returns the configured fetch-demo retry policy.
func PolicyFor(cfg config.RetryConfig) retry.Policy {
	return retry.Fixed(cfg.MaxAttempts, cfg.Interval)
}
