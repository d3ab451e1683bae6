package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "fetch":
		var code int
		code, err = fetchCommand(ctx, args)
		if err == nil && code != 0 {
			cancel()
			os.Exit(code)
		}
	case "request":
		err = requestCommand(ctx, args)
	case "bridge":
		err = bridgeCommand(ctx, args)
	case "health":
		err = healthCommand(ctx, args)
	case "init":
		err = initCommand(args)
	case "diag":
		err = diagCommand(args)
	case "history":
		err = historyCommand(ctx, args)
	case "version":
		fmt.Println("pepfetch", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", os.Args[1], err)
		cancel()
		os.Exit(1)
	}
}

const version = "0.1.0"

func usage() {
	fmt.Println("Usage: pepfetch <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  fetch [URL]  GET URL through the stub with retries and print status and a body preview")
	fmt.Println("  request      Send one request (--url, --method, --header, --body-file|--body-stdin)")
	fmt.Println("  bridge       Read a JSON request on stdin, write the JSON response on stdout")
	fmt.Println("  health       Ask the stub for its health status")
	fmt.Println("  init         Write a default config.toml")
	fmt.Println("  diag         Print the resolved configuration")
	fmt.Println("  history      Show recent journaled fetches")
	fmt.Println("  version      Print CLI version")
}

// remoteFlags are the connection options every stub-facing command takes.
// Flags win over PEP_* variables, which win over the config file.
type remoteFlags struct {
	fs        *pflag.FlagSet
	config    string
	transport string
	cid       uint32
	port      uint32
	address   string
	timeout   time.Duration
	logLevel  string
}

func addRemoteFlags(fs *pflag.FlagSet) *remoteFlags {
	rf := &remoteFlags{fs: fs}
	fs.StringVar(&rf.config, "config", "", "TOML config file (default: $PEP_CONFIG)")
	fs.StringVar(&rf.transport, "transport", "", "vsock, tcp or unix")
	fs.Uint32Var(&rf.cid, "cid", 0, "vsock context ID of the stub")
	fs.Uint32Var(&rf.port, "port", 0, "vsock port of the stub")
	fs.StringVar(&rf.address, "address", "", "tcp host:port or unix socket path of the stub")
	fs.DurationVar(&rf.timeout, "timeout", 0, "per-attempt timeout")
	fs.StringVar(&rf.logLevel, "log-level", "", "debug, info, warn or error")
	return rf
}

func (rf *remoteFlags) resolve() (*config.Config, error) {
	cfg, err := config.Resolve(rf.config, os.Getenv)
	if err != nil {
		return nil, err
	}
	if rf.fs.Changed("transport") {
		cfg.Remote.Transport = rf.transport
	}
	if rf.fs.Changed("cid") {
		cfg.Remote.CID = rf.cid
	}
	if rf.fs.Changed("port") {
		cfg.Remote.Port = rf.port
	}
	if rf.fs.Changed("address") {
		cfg.Remote.Address = rf.address
	}
	if rf.fs.Changed("timeout") {
		cfg.Remote.Timeout = rf.timeout
	}
	if rf.fs.Changed("log-level") {
		cfg.Logging.Level = rf.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New("pepfetch")
	if err := logger.Configure(cfg.Logging); err != nil {
		logger.Warnw("logging config ignored", "error", err)
	}
	return logger
}
