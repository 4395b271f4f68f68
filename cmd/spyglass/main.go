// Spyglass supervises a set of MCP servers — one child process per
// knowledge source — and answers "search everywhere" queries by fanning
// a query out to every connected source, normalizing the payloads, and
// merging them into one relevance-ranked list.
//
// Usage:
//
//	spyglass serve               Start the supervisor and HTTP API
//	spyglass search <query>      One-shot search across enabled sources
//	spyglass init [dir]          Write a starter config file
//	spyglass version             Print version and build information
//	spyglass -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"spyglass/internal/api"
	"spyglass/internal/buildinfo"
	"spyglass/internal/config"
	"spyglass/internal/events"
	"spyglass/internal/manager"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the spyglass command. All OS-level
// dependencies are injected as parameters. Arguments are parsed by
// hand: the flag package relies on package-level globals, which makes
// it impossible to call run() concurrently from tests, and the argument
// surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "search":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: spyglass search <query>")
		}
		return runSearch(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "), outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// newLogger builds the process logger with the custom TRACE level name.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// buildManager creates the manager and pushes every configured source in.
func buildManager(cfg *config.Config, bus *events.Bus, logger *slog.Logger) *manager.Manager {
	mgr := manager.New(bus, logger)
	for _, sc := range cfg.Sources {
		mgr.UpdateConfig(sc)
	}
	return mgr
}

// runServe starts every enabled source and the HTTP API, then blocks
// until SIGINT/SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Spyglass", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "sources", len(cfg.Sources))

	// SIGINT/SIGTERM trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()
	mgr := buildManager(cfg, bus, logger)
	mgr.StartAllEnabled(ctx)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, mgr, bus, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start(ctx) }()

	select {
	case err := <-serveErr:
		mgr.StopAll(context.Background())
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	mgr.StopAll(shutdownCtx)
	return nil
}

// runSearch is the one-shot CLI search: start enabled sources, run the
// fan-out once, print the merged results, and stop everything.
func runSearch(ctx context.Context, stdout, stderr io.Writer, configPath, query, outputFmt string) error {
	// Diagnostics go to stderr so stdout stays parseable.
	logger := newLogger(stderr, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr := buildManager(cfg, events.New(), logger)
	mgr.StartAllEnabled(ctx)
	defer mgr.StopAll(context.Background())

	results, err := mgr.SearchAcrossSources(ctx, query)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(stdout, "No results.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(stdout, "%.2f  [%s]  %s\n", r.Relevance, r.Source.DisplayName(), r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(stdout, "      %s\n", r.Snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(stdout, "      %s\n", r.URL)
		}
	}
	return nil
}

// runInit writes a starter config with every known source present but
// disabled, ready to be filled in.
func runInit(stdout io.Writer, dir string) error {
	path := filepath.Join(dir, "spyglass.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(stdout, "Wrote %s\n", path)
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Spyglass - MCP source supervisor and fan-out search")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: spyglass [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the supervisor and HTTP API")
	fmt.Fprintln(w, "  search <query>   One-shot search across enabled sources")
	fmt.Fprintln(w, "  init [dir]       Write a starter config file (default: .)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./spyglass.yaml, ~/.config/spyglass/spyglass.yaml, /etc/spyglass/spyglass.yaml")
	return nil
}
