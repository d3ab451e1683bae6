package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/rexliu/vsockpep/pkg/bridge"
	"github.com/rexliu/vsockpep/pkg/client"
	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/logging"
	"github.com/rexliu/vsockpep/pkg/retry"
)

const defaultFetchURL = "https://example.com"

// fetchCommand is the fetch demo: GET with the configured retry policy,
// then a status line and a body preview. The returned code is the exit
// status for a fetch that ran.
func fetchCommand(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("fetch", pflag.ExitOnError)
	rf := addRemoteFlags(fs)
	attempts := fs.Int("attempts", 0, "maximum attempts (default from config: 10)")
	_ = fs.Parse(args)

	url := defaultFetchURL
	if fs.NArg() > 0 {
		url = fs.Arg(0)
	}
	cfg, err := rf.resolve()
	if err != nil {
		return 0, err
	}
	if fs.Changed("attempts") {
		cfg.Retry.MaxAttempts = *attempts
	}
	logger := newLogger(cfg)
	defer logger.Close()

	c, closeJournal, err := client.FromConfig(ctx, cfg, client.PolicyFor(cfg.Retry), logger, "fetch")
	if err != nil {
		return 0, err
	}
	defer closeJournal()

	req, err := core.NewRequest("GET", url, core.Headers{}, nil)
	if err != nil {
		return 0, err
	}
	result, err := c.Fetch(ctx, req)
	var resp *core.Response
	if result != nil {
		resp = result.Response
	}
	return writeFetchOutcome(os.Stdout, resp, err), nil
}

// writeFetchOutcome prints the fetch-demo result and returns the exit code.
func writeFetchOutcome(w io.Writer, resp *core.Response, err error) int {
	if err != nil {
		code, message := core.Code(err)
		fmt.Fprintf(w, "error: %s: %s\n", code, message)
		return 1
	}
	fmt.Fprintln(w, "status=", resp.Status)
	fmt.Fprintln(w, core.Preview(resp.Body, core.PreviewBytes))
	return 0
}

func requestCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("request", pflag.ExitOnError)
	rf := addRemoteFlags(fs)
	url := fs.String("url", "", "request URL (required)")
	method := fs.String("method", "GET", "request method")
	headerArgs := fs.StringArray("header", nil, `request header "Name: value" (repeatable)`)
	bodyFile := fs.String("body-file", "", "read the request body from this file")
	bodyStdin := fs.Bool("body-stdin", false, "read the request body from stdin")
	_ = fs.Parse(args)

	if *url == "" {
		return fmt.Errorf("--url is required")
	}
	if *bodyFile != "" && *bodyStdin {
		return fmt.Errorf("--body-file and --body-stdin are exclusive")
	}
	body, err := readBody(*bodyFile, *bodyStdin, os.Stdin)
	if err != nil {
		return err
	}
	req, err := core.NewRequest(*method, *url, parseHeaders(*headerArgs), body)
	if err != nil {
		return err
	}

	cfg, err := rf.resolve()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Close()
	c, closeJournal, err := client.FromConfig(ctx, cfg, retry.Once(), logger, "request")
	if err != nil {
		return err
	}
	defer closeJournal()

	result, err := c.Fetch(ctx, req)
	if err != nil && core.KindOf(err) != core.KindRemoteDenied {
		return err
	}
	var resp *core.Response
	if result != nil {
		resp = result.Response
	}
	if perr := printJSON(os.Stdout, core.Envelope(resp, err)); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("denied")
	}
	return nil
}

// parseHeaders turns "Name: value" arguments into pairs, splitting on the
// first colon and trimming both sides. Arguments without a colon are
// skipped.
func parseHeaders(args []string) core.Headers {
	headers := make(core.Headers, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, ":")
		if !ok {
			continue
		}
		headers = append(headers, core.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return headers
}

// readBody returns the request body, or nil for none. An empty stdin is no
// body; an empty file is an empty body.
func readBody(path string, fromStdin bool, stdin io.Reader) ([]byte, error) {
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if data == nil {
			data = []byte{}
		}
		return data, nil
	case fromStdin:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(data) == 0 {
			return nil, nil
		}
		return data, nil
	}
	return nil, nil
}

func bridgeCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("bridge", pflag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file (default: $PEP_CONFIG)")
	_ = fs.Parse(args)

	logger := logging.New("pepfetch")
	defer logger.Close()
	cfg, cfgErr := config.Resolve(*configPath, os.Getenv)
	if err := bridge.RunConfigured(ctx, cfg, cfgErr, os.Stdin, os.Stdout, logger); err != nil {
		logger.Errorw("bridge failed", "error", err)
	}
	return nil
}

func healthCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("health", pflag.ExitOnError)
	rf := addRemoteFlags(fs)
	_ = fs.Parse(args)

	cfg, err := rf.resolve()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Close()

	session := client.NewSession(cfg.Remote, logger)
	reply, err := session.RoundTrip(ctx, core.WireRequest{Method: core.MethodHealth, Headers: core.Headers{}})
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, reply, "", "  "); err != nil {
		return core.Wrap(core.KindParse, "health reply", err)
	}
	fmt.Println(out.String())
	return nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
