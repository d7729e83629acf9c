// Herald generates an automated news digest with an LLM.
//
// Each run builds a prompt from configured topics, drives a bounded
// tool-use loop against the Anthropic API (the model may search the web
// mid-generation), and fans the finished digest out to the configured
// notification channels. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	herald generate          Generate a digest and send notifications
//	herald generate -dry-run Generate and print without sending
//	herald init [dir]        Write a starter config.yaml
//	herald history [n]       Show recent generation runs
//	herald version           Print version and build information
//	herald -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/herald-news-agent/internal/agent"
	"github.com/nugget/herald-news-agent/internal/buildinfo"
	"github.com/nugget/herald-news-agent/internal/config"
	"github.com/nugget/herald-news-agent/internal/digest"
	"github.com/nugget/herald-news-agent/internal/feeds"
	"github.com/nugget/herald-news-agent/internal/history"
	"github.com/nugget/herald-news-agent/internal/llm"
	"github.com/nugget/herald-news-agent/internal/notify"
	"github.com/nugget/herald-news-agent/internal/search"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit and os.Args out of the application logic so the full lifecycle
// can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the herald command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which interferes with calling run() concurrently from tests, and the
// argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var dryRun bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-dry-run" || args[i] == "--dry-run":
			dryRun = true
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
	case "generate":
		return runGenerate(ctx, stdout, stderr, configPath, dryRun)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "history":
		limit := 10
		if len(cmdArgs) > 0 {
			n, err := strconv.Atoi(cmdArgs[0])
			if err != nil || n < 0 {
				return fmt.Errorf("usage: herald history [n]")
			}
			limit = n
		}
		return runHistory(stdout, configPath, outputFmt, limit)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runGenerate handles the "herald generate" subcommand: one full
// digest generation, history recording, and notification fan-out. With
// dryRun the digest is printed to stdout and nothing is sent.
func runGenerate(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, dryRun bool) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, err = config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
	}
	logger := newLogger(stderr, level)
	logger.Info("starting Herald",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)

	if cfg.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is not configured (set it in %s)", cfgPath)
	}

	// SIGINT/SIGTERM cancels the run.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.MaxTokens, logger)

	// Web search tool. When disabled or misconfigured the model writes
	// from training data alone.
	var executor agent.ToolExecutor
	searchEnabled := cfg.Search.Enabled
	if searchEnabled {
		mgr := search.NewManager(cfg.Search.Provider)
		switch cfg.Search.Provider {
		case "duckduckgo":
			mgr.Register(search.NewDuckDuckGo())
		case "searxng":
			if cfg.Search.SearXNGURL == "" {
				return fmt.Errorf("search.searxng_url is required when search.provider is searxng")
			}
			mgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
		default:
			return fmt.Errorf("unknown search provider: %q", cfg.Search.Provider)
		}
		executor = search.NewExecutor(mgr, cfg.Search.MaxResults, logger)
		logger.Info("web search enabled", "provider", cfg.Search.Provider)
	} else {
		logger.Info("web search disabled")
	}

	driver := agent.NewDriver(logger, client, executor, cfg.Anthropic.Model)

	var sources digest.SourceFetcher
	if cfg.Feeds.Enabled {
		sources = feeds.NewFetcher(logger, cfg.Feeds)
		logger.Info("feed sources enabled", "sources", len(cfg.Feeds.Sources))
	}

	gen := digest.NewGenerator(logger, driver, cfg.Digest, searchEnabled, sources)

	startedAt := time.Now().UTC()
	result, genErr := gen.GenerateWithRetry(ctx)

	// Record the run, success or failure, before anything else can go
	// wrong. History is best effort and never fails the command.
	if cfg.History.Path != "" {
		recordRun(logger, cfg, result, startedAt, genErr)
	}

	if genErr != nil {
		return genErr
	}

	logger.Info("digest generated",
		"run_id", result.RunID,
		"iterations", result.Iterations,
		"tool_calls", result.ToolCalls,
		"chars", len(result.Content),
	)

	title := notify.DefaultTitle(startedAt)

	if dryRun {
		fmt.Fprintf(stdout, "%s\n\n%s\n", title, result.Content)
		logger.Info("dry run, skipping notifications")
		return nil
	}

	dispatcher, err := buildDispatcher(logger, cfg)
	if err != nil {
		return err
	}

	return dispatcher.Send(ctx, notify.Digest{
		Title:       title,
		Content:     result.Content,
		GeneratedAt: startedAt,
	})
}

// buildDispatcher assembles the notification fan-out from the enabled
// methods in config.
func buildDispatcher(logger *slog.Logger, cfg *config.Config) (*notify.Dispatcher, error) {
	var notifiers []notify.Notifier
	for _, method := range cfg.Notify.Methods {
		switch method {
		case "email":
			notifiers = append(notifiers, notify.NewEmailNotifier(logger, cfg.Notify.Email))
		case "webhook":
			notifiers = append(notifiers, notify.NewWebhookNotifier(logger, cfg.Notify.Webhook.URL))
		case "mqtt":
			notifiers = append(notifiers, notify.NewMQTTNotifier(logger, cfg.Notify.MQTT))
		default:
			return nil, fmt.Errorf("unknown notification method: %q", method)
		}
	}
	return notify.NewDispatcher(logger, notifiers...), nil
}

// recordRun persists one generation attempt to the history database.
func recordRun(logger *slog.Logger, cfg *config.Config, result *agent.Result, startedAt time.Time, genErr error) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.Warn("history database unavailable, run not recorded",
			"path", cfg.History.Path, "error", err)
		return
	}
	defer store.Close()

	rec := &history.RunRecord{
		Topics:        cfg.Digest.Topics,
		Model:         cfg.Anthropic.Model,
		Language:      cfg.Digest.Language,
		MaxIterations: cfg.Digest.MaxIterations,
		MaxToolCalls:  cfg.Digest.MaxToolCalls,
		StartedAt:     startedAt,
		CompletedAt:   time.Now().UTC(),
	}
	rec.DurationMs = rec.CompletedAt.Sub(startedAt).Milliseconds()
	if genErr != nil {
		rec.Error = genErr.Error()
	}
	if result != nil {
		rec.ID = result.RunID
		rec.Iterations = result.Iterations
		rec.ToolCalls = result.ToolCalls
		rec.InputTokens = result.InputTokens
		rec.OutputTokens = result.OutputTokens
		rec.Exhausted = result.Exhausted
		rec.Salvaged = result.Salvaged
		rec.Messages = result.Messages
		rec.Content = result.Content
	} else {
		rec.ID = fmt.Sprintf("failed-%d", startedAt.UnixNano())
	}

	if err := store.Record(rec); err != nil {
		logger.Warn("failed to record run", "error", err)
		return
	}
	logger.Debug("run recorded", "run_id", rec.ID, "path", cfg.History.Path)
}

// runHistory handles the "herald history [n]" subcommand.
func runHistory(stdout io.Writer, configPath, outputFmt string, limit int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return fmt.Errorf("history is disabled (set history.path in config)")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(limit)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(stdout, "no runs recorded")
		return nil
	}

	for _, rec := range records {
		status := "ok"
		switch {
		case rec.Error != "":
			status = "failed"
		case rec.Salvaged:
			status = "salvaged"
		}
		fmt.Fprintf(stdout, "%s  %s  %-8s  iter %d/%d  searches %d/%d  tokens %d/%d  %s\n",
			rec.StartedAt.Format("2006-01-02 15:04"),
			rec.ID,
			status,
			rec.Iterations, rec.MaxIterations,
			rec.ToolCalls, rec.MaxToolCalls,
			rec.InputTokens, rec.OutputTokens,
			rec.Model,
		)
	}
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
	fmt.Fprintln(w, "Herald - Automated AI News Digest")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: herald [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  generate     Generate a digest and send notifications")
	fmt.Fprintln(w, "  init [dir]   Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  history [n]  Show the n most recent runs (default: 10)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -dry-run          Generate and print without sending (generate only)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/herald/config.yaml, /etc/herald/config.yaml")
	return nil
}

// newLogger creates a structured text logger writing to w. All log
// output goes to stderr so stdout stays clean for digest content.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
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
