// pep-bridge reads one fetch request as JSON on stdin, forwards it to the
// policy-enforcement stub and writes exactly one JSON object to stdout.
// Diagnostics go to stderr. The exit status is 0 even when the fetch fails;
// the outcome is in the JSON.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rexliu/vsockpep/pkg/bridge"
	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/logging"
)

func main() {
	flags := pflag.NewFlagSet("pep-bridge", pflag.ContinueOnError)
	configPath := flags.String("config", "", "TOML config file (default: $PEP_CONFIG)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "pep-bridge: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.New("pep-bridge")
	defer logger.Close()

	cfg, cfgErr := config.Resolve(*configPath, os.Getenv)
	if err := bridge.RunConfigured(ctx, cfg, cfgErr, os.Stdin, os.Stdout, logger); err != nil {
		logger.Errorw("bridge failed", "error", err)
	}
}
