// Command crewdex resolves crew and vendor mentions in construction daily
// reports against a canonical entity store.
//
// Usage:
//
//	crewdex -config config.yaml [-kind person|vendor] report.txt...
//
// Each argument file is read as one daily report (the file base name becomes
// the site). Rosters listed in the config are imported first; the review
// queue is written when the batch finishes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/crewdex/crewdex/internal/app"
	"github.com/crewdex/crewdex/internal/config"
	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/observe"
	"github.com/crewdex/crewdex/internal/report"
	"github.com/crewdex/crewdex/pkg/provider/llm"
	"github.com/crewdex/crewdex/pkg/provider/llm/anyllm"
	oaillm "github.com/crewdex/crewdex/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	kindFlag := flag.String("kind", "", "restrict processing to one entity kind (person|vendor)")
	flag.Parse()

	// .env is optional; real env vars win over file values.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	kind := entity.Kind(*kindFlag)
	if kind != "" && !kind.IsValid() {
		fmt.Fprintf(os.Stderr, "crewdex: unknown -kind %q (want person or vendor)\n", *kindFlag)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "crewdex: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "crewdex: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("crewdex starting",
		"config", *configPath,
		"store", cfg.Store.Kind,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, reg, app.WithKindFilter(kind))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	application.StartOps()

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		slog.Info("config changed", "fields", strings.Join(d.Fields, ", "))
		if d.ResolverChanged || d.AbbreviationsChanged {
			if err := application.ApplyResolverConfig(new.Resolver, new.Abbreviations); err != nil {
				slog.Error("failed to apply new resolver config", "err", err)
			}
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Rosters ───────────────────────────────────────────────────────────────
	rosters, err := application.ImportRosters(ctx)
	if err != nil {
		slog.Error("roster import failed", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, kind, rosters, flag.NArg())

	// ── Reports ───────────────────────────────────────────────────────────────
	reports, err := readReports(flag.Args())
	if err != nil {
		slog.Error("failed to read report files", "err", err)
		return 1
	}
	if len(reports) == 0 {
		slog.Info("no report files given; roster import only")
		return writeReview(cfg, &report.Summary{ReviewItems: rosters.ReviewItems})
	}

	summary, err := application.ProcessReports(ctx, reports)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("batch interrupted")
			return 1
		}
		slog.Error("batch failed", "err", err)
		return 1
	}
	summary.ReviewItems = append(summary.ReviewItems, rosters.ReviewItems...)

	slog.Info("batch complete",
		"reports", len(summary.Reports),
		"matched", summary.Matched,
		"ambiguous", summary.Ambiguous,
		"no_match", summary.NoMatch,
		"created", summary.Created,
		"review_items", len(summary.ReviewItems),
	)

	if code := writeReview(cfg, summary); code != 0 {
		return code
	}
	if summary.Failed > 0 {
		slog.Error("some reports were aborted by store failures", "failed", summary.Failed)
		return 1
	}
	return 0
}

// writeReview persists the review queue when a path is configured.
func writeReview(cfg *config.Config, summary *report.Summary) int {
	if cfg.Review.Path == "" {
		return 0
	}
	if err := summary.WriteReviewQueue(cfg.Review.Path); err != nil {
		slog.Error("failed to write review queue", "err", err)
		return 1
	}
	slog.Info("review queue written", "path", cfg.Review.Path, "items", len(summary.ReviewItems))
	return 0
}

// readReports loads each argument file as one daily report. The file's base
// name (without extension) becomes the site and the report ID; the file
// modification time is the reporting timestamp.
func readReports(paths []string) ([]report.DailyReport, error) {
	reports := make([]report.DailyReport, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read report %q: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat report %q: %w", path, err)
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		reports = append(reports, report.DailyReport{
			ID:         base,
			Site:       base,
			ReportedAt: info.ModTime().UTC(),
			Text:       string(data),
		})
	}
	return reports, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-native bypasses any-llm and talks to the OpenAI SDK directly.
	reg.RegisterLLM("openai-native", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, kind entity.Kind, rosters *report.RosterSummary, reportCount int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         crewdex — run summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Store", string(storeKind(cfg)))
	printRow("Extractor", extractorLabel(cfg))
	printRow("Threshold", fmt.Sprintf("%.2f / ±%.2f", cfg.Resolver.Threshold(), cfg.Resolver.Margin()))
	if kind != "" {
		printRow("Kind filter", string(kind))
	}
	printRow("Roster entries", fmt.Sprintf("%d new, %d known", rosters.Created, rosters.Merged))
	printRow("Report files", fmt.Sprintf("%d", reportCount))
	if cfg.Ops.ListenAddr != "" {
		printRow("Ops listener", cfg.Ops.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func storeKind(cfg *config.Config) config.StoreKind {
	if cfg.Store.Kind == "" {
		return config.StoreMemory
	}
	return cfg.Store.Kind
}

func extractorLabel(cfg *config.Config) string {
	p := cfg.Extractor.Provider
	if p.Name == "" {
		return "(not configured)"
	}
	if p.Model != "" {
		return p.Name + " / " + p.Model
	}
	return p.Name
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
