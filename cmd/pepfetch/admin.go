package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/rexliu/vsockpep/pkg/client"
	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/storage/sqlite"
)

func initCommand(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ExitOnError)
	path := fs.String("path", "config.toml", "where to write the config")
	journal := fs.String("journal", "", "enable the fetch journal at this path")
	force := fs.Bool("force", false, "overwrite an existing config")
	_ = fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", *path)
	}
	cfg := config.Default()
	cfg.Journal.Path = *journal
	if err := config.Save(*path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *path)
	return nil
}

func diagCommand(args []string) error {
	fs := pflag.NewFlagSet("diag", pflag.ExitOnError)
	rf := addRemoteFlags(fs)
	_ = fs.Parse(args)

	cfg, err := rf.resolve()
	if err != nil {
		return err
	}
	source := rf.config
	if source == "" {
		source = os.Getenv(config.EnvConfig)
	}
	if source == "" {
		source = "(defaults)"
	}
	fmt.Printf("Config: %s\n", source)
	fmt.Printf("Endpoint: %s\n", client.EndpointFor(cfg.Remote))
	fmt.Printf("Timeout: %s\n", cfg.Remote.Timeout)
	fmt.Printf("Max Frame: %d bytes\n", cfg.Remote.MaxFrameBytes)
	fmt.Printf("Retry: %d attempts, %s apart\n", cfg.Retry.MaxAttempts, cfg.Retry.Interval)
	fmt.Printf("Log Level: %s\n", cfg.Logging.Level)
	if cfg.Logging.FilePath != "" {
		fmt.Printf("Log File: %s\n", cfg.Logging.FilePath)
	}
	if cfg.Journal.Path != "" {
		fmt.Printf("Journal: %s\n", cfg.Journal.Path)
	} else {
		fmt.Println("Journal: disabled")
	}
	return nil
}

func historyCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file (default: $PEP_CONFIG)")
	journalPath := fs.String("journal", "", "journal path (default from config)")
	limit := fs.Int("limit", 20, "number of entries")
	summary := fs.Bool("summary", false, "print counts per outcome instead")
	_ = fs.Parse(args)

	path := *journalPath
	if path == "" {
		cfg, err := config.Resolve(*configPath, os.Getenv)
		if err != nil {
			return err
		}
		path = cfg.Journal.Path
	}
	if path == "" {
		return fmt.Errorf("journal not configured (set [journal] path or --journal)")
	}
	store, err := client.OpenJournal(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	if *summary {
		counts, err := store.CountByCode(ctx)
		if err != nil {
			return err
		}
		return writeSummary(os.Stdout, counts)
	}
	entries, err := store.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	return writeHistory(os.Stdout, entries)
}

// writeSummary prints one row per outcome, most frequent first, ties by code.
func writeSummary(out io.Writer, counts map[string]int) error {
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if counts[codes[i]] != counts[codes[j]] {
			return counts[codes[i]] > counts[codes[j]]
		}
		return codes[i] < codes[j]
	})

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	for _, code := range codes {
		label := code
		if label == "" {
			label = "ok"
		}
		fmt.Fprintf(w, "%s\t%d\n", label, counts[code])
	}
	return w.Flush()
}

func writeHistory(out io.Writer, entries []sqlite.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tMODE\tMETHOD\tURL\tATTEMPTS\tOUTCOME\tDURATION")
	for _, e := range entries {
		outcome := strconv.Itoa(e.Status)
		if e.Code != "" {
			outcome = e.Code
		}
		duration := time.Duration(e.DurationMs) * time.Millisecond
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n", e.ID, startedAt(e).UTC().Format(time.RFC3339), e.Mode, e.Method, e.URL, e.Attempts, outcome, duration)
	}
	return w.Flush()
}

// startedAt reads the start time from the exchange ID; entries written
// with a foreign ID fall back to the stored column.
func startedAt(e sqlite.Entry) time.Time {
	if t, err := core.ExchangeTime(e.ID); err == nil {
		return t
	}
	return time.UnixMilli(e.StartedAt)
}
