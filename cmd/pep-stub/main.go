// pep-stub is a development stand-in for the host policy-enforcement stub.
// It echoes every request back as a 200 response, answers HEALTH, and
// denies hosts outside --allow when that list is given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/ipc"
	"github.com/rexliu/vsockpep/pkg/logging"
	"github.com/rexliu/vsockpep/pkg/transport"
)

const version = "0.1.0"

type options struct {
	endpoint         transport.Endpoint
	allow            []string
	maxRequestBytes  int
	maxResponseBytes int
	logLevel         string
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("pep-stub", pflag.ExitOnError)
	fs.StringVar(&opts.endpoint.Network, "transport", transport.NetworkVsock, "vsock, tcp or unix")
	fs.Uint32Var(&opts.endpoint.CID, "cid", 0, "vsock context ID to bind (0 = any)")
	fs.Uint32Var(&opts.endpoint.Port, "port", transport.DefaultPort, "vsock port")
	fs.StringVar(&opts.endpoint.Address, "address", "", "tcp host:port or unix socket path")
	fs.StringSliceVar(&opts.allow, "allow", splitDomains(os.Getenv("PEP_ALLOWED_DOMAINS")), "allowed domains, comma separated (empty allows all)")
	fs.IntVar(&opts.maxRequestBytes, "max-request-bytes", 5<<20, "largest request frame accepted")
	fs.IntVar(&opts.maxResponseBytes, "max-response-bytes", 10<<20, "response limit reported by HEALTH")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	_ = fs.Parse(os.Args[1:])

	logger := logging.New("pep-stub")
	defer logger.Close()
	if err := logger.Configure(config.LoggingConfig{Level: opts.logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "pep-stub: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Errorw("fatal error", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *logging.Logger) error {
	if opts.endpoint.Network == transport.NetworkUnix {
		if err := cleanupSocket(opts.endpoint.Address); err != nil {
			return err
		}
		defer cleanupSocket(opts.endpoint.Address)
	}
	ln, err := transport.Listen(opts.endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.endpoint, err)
	}

	srv := newServer(opts, logger)
	if err := srv.Start(ctx, ln); err != nil {
		ln.Close()
		return fmt.Errorf("start stub: %w", err)
	}
	defer srv.Stop()

	logger.Infow("stub ready", "endpoint", opts.endpoint.String(), "addr", srv.Addr().String(), "allowed_domains", len(opts.allow))
	<-ctx.Done()
	logger.Infow("shutting down")
	return nil
}

func newServer(opts options, logger *logging.Logger) *ipc.Server {
	srv := ipc.NewServer(ipc.AllowlistHandler(opts.allow, ipc.EchoHandler()), logger)
	if opts.maxRequestBytes > 0 {
		srv.SetMaxFrame(uint32(opts.maxRequestBytes))
	}
	srv.Register(core.MethodHealth, ipc.HealthHandler(ipc.HealthStatus{
		Status:              "ok",
		Version:             version,
		AllowedDomainsCount: len(opts.allow),
		MaxRequestBytes:     opts.maxRequestBytes,
		MaxResponseBytes:    opts.maxResponseBytes,
	}))
	return srv
}

func splitDomains(raw string) []string {
	var domains []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			domains = append(domains, entry)
		}
	}
	return domains
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
