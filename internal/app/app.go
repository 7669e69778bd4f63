// Package app wires all crewdex subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems (entity store, extractor, resolver, report pipeline, ops
// listener), and Shutdown tears everything down in order.
//
// For testing, inject fake implementations via functional options
// (WithStore, WithExtractor). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crewdex/crewdex/internal/config"
	"github.com/crewdex/crewdex/internal/entity"
	entitypg "github.com/crewdex/crewdex/internal/entity/postgres"
	entitysqlite "github.com/crewdex/crewdex/internal/entity/sqlite"
	"github.com/crewdex/crewdex/internal/extract"
	"github.com/crewdex/crewdex/internal/health"
	"github.com/crewdex/crewdex/internal/normalize"
	"github.com/crewdex/crewdex/internal/observe"
	"github.com/crewdex/crewdex/internal/report"
	"github.com/crewdex/crewdex/internal/resilience"
	"github.com/crewdex/crewdex/internal/resolve"
	"github.com/crewdex/crewdex/internal/score"
	"github.com/crewdex/crewdex/pkg/provider/llm"
)

// opsShutdownTimeout bounds the graceful drain of the ops listener.
const opsShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes for one crewdex process.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	store      entity.Store
	extractor  report.Extractor
	pipeline   *report.Pipeline
	kindFilter entity.Kind
	ops        *http.Server

	// resolverMu guards resolver: the config watcher swaps it from its
	// polling goroutine while roster imports and accessors read it.
	resolverMu sync.RWMutex
	resolver   *resolve.Resolver

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an entity store instead of building one from config.
func WithStore(s entity.Store) Option {
	return func(a *App) { a.store = s }
}

// WithExtractor injects a mention extractor instead of building one from the
// provider registry.
func WithExtractor(e report.Extractor) Option {
	return func(a *App) { a.extractor = e }
}

// WithKindFilter restricts report processing to one entity kind
// (the -kind flag). The zero value processes every kind.
func WithKindFilter(kind entity.Kind) Option {
	return func(a *App) { a.kindFilter = kind }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The registry supplies
// LLM provider factories (populated by the main command).
// Use Option functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{
		cfg:      cfg,
		registry: registry,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Entity store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Resolver ──────────────────────────────────────────────────────
	resolver, err := buildResolver(a.store, cfg.Resolver, cfg.Abbreviations)
	if err != nil {
		return nil, fmt.Errorf("app: init resolver: %w", err)
	}
	a.resolver = resolver

	// ── 3. Extractor ─────────────────────────────────────────────────────
	if err := a.initExtractor(); err != nil {
		return nil, fmt.Errorf("app: init extractor: %w", err)
	}

	// ── 4. Report pipeline ───────────────────────────────────────────────
	if a.extractor != nil {
		p, err := report.NewPipeline(a.resolver, a.extractor,
			report.WithAutoCreate(cfg.Resolver.AutoCreateEnabled()),
			report.WithForceDecision(cfg.Resolver.ForceDecision),
			report.WithConcurrency(cfg.Pipeline.Workers()),
			report.WithKindFilter(a.kindFilter),
		)
		if err != nil {
			return nil, fmt.Errorf("app: init pipeline: %w", err)
		}
		a.pipeline = p
	}

	// ── 5. Ops listener ──────────────────────────────────────────────────
	if cfg.Ops.ListenAddr != "" {
		a.initOps(cfg.Ops.ListenAddr)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore builds the entity store selected by store.kind, unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Kind {
	case config.StoreMemory, "":
		a.store = entity.NewMemStore()

	case config.StoreSQLite:
		path := a.cfg.Store.SQLitePath
		if path == "" {
			path = "crewdex.db"
		}
		s, err := entitysqlite.Open(path)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		slog.Info("opened sqlite entity store", "path", path)

	case config.StorePostgres:
		dsn := a.cfg.Store.PostgresDSN
		if dsn == "" {
			return errors.New("store.postgres_dsn is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s := entitypg.NewStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("migrate postgres schema: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		slog.Info("connected postgres entity store")

	default:
		return fmt.Errorf("unknown store kind %q", a.cfg.Store.Kind)
	}
	return nil
}

// initExtractor builds the LLM extractor when a provider is configured and
// none was injected. A config without an extractor provider is valid; the
// app then only serves roster import and injected-extractor runs.
func (a *App) initExtractor() error {
	if a.extractor != nil {
		return nil
	}
	entry := a.cfg.Extractor.Provider
	if entry.Name == "" {
		slog.Warn("no extractor provider configured; report processing is disabled")
		return nil
	}
	if a.registry == nil {
		return errors.New("extractor configured but no provider registry supplied")
	}

	primary, err := a.buildProvider(entry)
	if err != nil {
		return fmt.Errorf("build primary provider %q: %w", entry.Name, err)
	}

	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  a.cfg.Extractor.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Extractor.Breaker.ResetTimeout.AsDuration(),
	}
	opts := []extract.Option{
		extract.WithRateLimit(a.cfg.Extractor.RequestsPerMinute),
	}
	if fb := a.cfg.Extractor.Fallback; fb.Name != "" {
		fallback, err := a.buildProvider(fb)
		if err != nil {
			return fmt.Errorf("build fallback provider %q: %w", fb.Name, err)
		}
		opts = append(opts, extract.WithFallback(fb.Name, fallback))
	}

	ex, err := extract.New(primary, entry.Name, breaker, opts...)
	if err != nil {
		return err
	}
	a.extractor = ex
	slog.Info("extractor ready",
		"provider", entry.Name, "model", entry.Model,
		"fallback", a.cfg.Extractor.Fallback.Name)
	return nil
}

// buildProvider instantiates a provider entry via the registry, consulting
// the process environment for the API key when the config leaves it empty.
func (a *App) buildProvider(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.APIKey == "" {
		envKey := strings.ToUpper(entry.Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			entry.APIKey = v
		} else {
			slog.Warn("provider has no API key configured", "provider", entry.Name, "env", envKey)
		}
	}
	return a.registry.CreateLLM(entry)
}

// initOps builds the operational HTTP server: health probes and Prometheus
// metrics, instrumented with request-duration middleware.
func (a *App) initOps(addr string) {
	checkers := []health.Checker{
		{
			Name: "store",
			Check: func(ctx context.Context) error {
				return a.store.Ping(ctx)
			},
		},
	}
	if a.extractor != nil {
		checkers = append(checkers, health.Checker{
			Name: "extractor",
			Check: func(context.Context) error {
				return nil
			},
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.ops = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the entity store the app was wired with.
func (a *App) Store() entity.Store { return a.store }

// Resolver returns the resolution engine.
func (a *App) Resolver() *resolve.Resolver {
	a.resolverMu.RLock()
	defer a.resolverMu.RUnlock()
	return a.resolver
}

// Pipeline returns the report pipeline, or nil when no extractor is
// configured.
func (a *App) Pipeline() *report.Pipeline { return a.pipeline }

// ─── Operations ──────────────────────────────────────────────────────────────

// StartOps serves the operational listener in the background, if one is
// configured. The listener is drained during Shutdown.
func (a *App) StartOps() {
	if a.ops == nil {
		return
	}
	srv := a.ops
	go func() {
		slog.Info("ops listener started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops listener failed", "err", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// ImportRosters runs every configured roster file through the resolver.
// Returns the total entities created and merged and any review items the
// imports produced.
func (a *App) ImportRosters(ctx context.Context) (*report.RosterSummary, error) {
	total := &report.RosterSummary{}
	resolver := a.Resolver()
	for _, path := range a.cfg.Roster.Files {
		s, err := report.ImportRoster(ctx, resolver, path)
		if err != nil {
			return nil, err
		}
		total.Created += s.Created
		total.Merged += s.Merged
		total.ReviewItems = append(total.ReviewItems, s.ReviewItems...)
	}
	return total, nil
}

// ProcessReports runs a batch through the pipeline.
func (a *App) ProcessReports(ctx context.Context, reports []report.DailyReport) (*report.Summary, error) {
	if a.pipeline == nil {
		return nil, errors.New("app: no extractor configured; cannot process reports")
	}
	return a.pipeline.Process(ctx, reports)
}

// ApplyResolverConfig rebuilds the resolver from new tuning values and swaps
// it into the pipeline. Used by the config watcher so threshold changes apply
// between reports without a restart.
func (a *App) ApplyResolverConfig(rc config.ResolverConfig, abbreviations map[string]string) error {
	resolver, err := buildResolver(a.store, rc, abbreviations)
	if err != nil {
		return fmt.Errorf("app: rebuild resolver: %w", err)
	}
	a.resolverMu.Lock()
	a.resolver = resolver
	a.resolverMu.Unlock()
	if a.pipeline != nil {
		if err := a.pipeline.UpdateResolver(resolver); err != nil {
			return fmt.Errorf("app: swap resolver: %w", err)
		}
	}
	slog.Info("resolver thresholds applied",
		"match_threshold", rc.Threshold(),
		"ambiguity_margin", rc.Margin(),
		"phonetic_weight", rc.Phonetic())
	return nil
}

// buildResolver assembles scorer, normalizer, and resolver from config.
func buildResolver(store entity.Store, rc config.ResolverConfig, abbreviations map[string]string) (*resolve.Resolver, error) {
	scorer, err := score.New(
		score.WithThreshold(rc.Threshold()),
		score.WithPhoneticWeight(rc.Phonetic()),
	)
	if err != nil {
		return nil, err
	}
	return resolve.New(store,
		resolve.WithScorer(scorer),
		resolve.WithNormalizer(normalize.New(abbreviations)),
		resolve.WithMargin(rc.Margin()),
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
