// Package app wires the gitapractice subsystems into a running service.
//
// The App struct owns the full lifecycle: New opens the store, loads the
// verse dataset and builds the HTTP router, Run serves HTTP and runs the
// background jobs, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithDataset, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gitapractice/internal/api"
	"github.com/MrWong99/gitapractice/internal/chatbot"
	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/docstore"
	"github.com/MrWong99/gitapractice/internal/health"
	"github.com/MrWong99/gitapractice/internal/mcpserver"
	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/practice"
	"github.com/MrWong99/gitapractice/internal/pronounce"
	"github.com/MrWong99/gitapractice/internal/resilience"
	"github.com/MrWong99/gitapractice/internal/schedule"
	"github.com/MrWong99/gitapractice/internal/verse"
)

// Scheduled job names.
const (
	JobHeartbeat  = "heartbeat"
	JobDailyVerse = "daily-verse"
)

// shutdownGrace bounds how long Run waits for in-flight requests once its
// context is cancelled.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or created in New.
	registry       *config.Registry
	rawStore       docstore.Store
	dataset        *verse.Dataset
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	now            func() time.Time
	version        string
	watcher        *config.Watcher

	// Built in New.
	store     *docstore.Guarded
	evaluator *pronounce.Evaluator
	practice  *practice.Service
	bot       *chatbot.Bot
	cors      *api.CORS
	mcp       *mcpserver.Server
	scheduler *schedule.Scheduler
	router    chi.Router

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a document store instead of opening the configured
// backend. The caller keeps ownership; Shutdown does not close it.
func WithStore(s docstore.Store) Option {
	return func(a *App) { a.rawStore = s }
}

// WithRegistry replaces [config.DefaultRegistry] for opening the store.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDataset injects a verse dataset instead of loading cfg.Dataset.
func WithDataset(d *verse.Dataset) Option {
	return func(a *App) { a.dataset = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at cfg.Telemetry.MetricsPath. Without it no
// scrape endpoint is served.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the logger
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithClock overrides the time source of the daily verse.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithConfigWatcher makes Run poll w and apply hot-reloadable changes
// through [App.ApplyConfig].
func WithConfigWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		now:     time.Now,
		version: "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(LogLevel(cfg.Server.LogLevel))
	}

	// ── 1. Document store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Verse dataset ─────────────────────────────────────────────────
	if err := a.initDataset(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init dataset: %w", err)
	}

	// ── 3. Services ──────────────────────────────────────────────────────
	a.evaluator = pronounce.New(pronounce.WithMetrics(a.metrics))
	a.practice = practice.New(a.store,
		practice.WithDefaultUser(cfg.Practice.DefaultUser),
		practice.WithMasteryThreshold(cfg.Practice.MasteryThreshold),
	)
	bot, err := chatbot.New(a.dataset, chatbot.RulesFromConfig(cfg.Chatbot), chatbot.WithMetrics(a.metrics))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init chatbot: %w", err)
	}
	a.bot = bot
	a.mcp = mcpserver.New(a.dataset, a.evaluator, a.bot,
		mcpserver.WithMetrics(a.metrics),
		mcpserver.WithVersion(a.version),
		mcpserver.WithClock(a.now),
	)

	// ── 4. Background jobs ───────────────────────────────────────────────
	if err := a.initScheduler(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init scheduler: %w", err)
	}

	// ── 5. HTTP router ───────────────────────────────────────────────────
	a.initRouter()

	if a.watcher != nil {
		a.watcher.OnChange(a.ApplyConfig)
	}

	slog.Info("app initialised",
		"store", a.store.Backend(),
		"verses", a.dataset.Len(),
		"mcp", cfg.MCP.Enabled,
		"jobs", a.scheduler.Jobs(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected and wraps
// it in the circuit breaker.
func (a *App) initStore(ctx context.Context) error {
	if a.rawStore == nil {
		reg := a.registry
		if reg == nil {
			reg = config.DefaultRegistry()
		}
		s, err := reg.CreateStore(ctx, a.cfg.Store)
		if err != nil {
			return err
		}
		a.rawStore = s
		a.closers = append(a.closers, s.Close)
	}
	a.store = docstore.NewGuarded(a.rawStore,
		docstore.WithBreakerConfig(resilience.Config{
			MaxFailures:  a.cfg.Store.Breaker.MaxFailures,
			ResetTimeout: a.cfg.Store.Breaker.ResetTimeout,
		}),
		docstore.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initDataset() error {
	if a.dataset != nil {
		return nil
	}
	var err error
	if path := a.cfg.Dataset.Path; path != "" {
		a.dataset, err = verse.LoadFile(path)
		if err == nil {
			slog.Info("loaded verse dataset", "path", path, "verses", a.dataset.Len())
		}
	} else {
		a.dataset, err = verse.Default()
	}
	return err
}

func (a *App) initScheduler() error {
	a.scheduler = schedule.New()
	if _, err := a.scheduler.Add(JobHeartbeat, a.cfg.Schedule.Heartbeat, a.heartbeat); err != nil {
		return err
	}
	if _, err := a.scheduler.Add(JobDailyVerse, a.cfg.Schedule.DailyVerse, a.announceDailyVerse); err != nil {
		return err
	}
	return nil
}

func (a *App) initRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	a.cors = api.NewCORS(a.cfg.Server.CORSOrigins)
	r.Use(a.cors.Middleware)

	api.New(a.dataset, a.evaluator, a.practice, a.bot,
		api.WithClock(a.now),
		api.WithMaxLimit(a.cfg.Store.MaxLimit),
	).Routes(r)

	health.New(a.store,
		health.Checker{Name: "store", Check: a.store.Ping},
		health.Checker{Name: "dataset", Check: a.checkDataset},
	).Register(r)

	if a.metricsHandler != nil {
		r.Method(http.MethodGet, a.cfg.Telemetry.MetricsPath, a.metricsHandler)
	}
	if a.cfg.MCP.Enabled {
		r.Handle(a.cfg.MCP.Path, a.mcp.Handler())
		slog.Info("mcp tools served over http", "path", a.cfg.MCP.Path)
	}
	a.router = r
}

// ─── Jobs and checks ─────────────────────────────────────────────────────────

// heartbeat records that the store accepts writes.
func (a *App) heartbeat(ctx context.Context) error {
	_, err := a.store.Create(ctx, docstore.CollectionHealth, map[string]any{
		"kind":    "heartbeat",
		"at":      a.now().UTC().Format(time.RFC3339),
		"backend": a.store.Backend(),
	})
	return err
}

func (a *App) announceDailyVerse(context.Context) error {
	ref, err := a.dataset.Daily(a.now())
	if err != nil {
		return err
	}
	slog.Info("verse of the day",
		"chapter", ref.Chapter,
		"verse_id", ref.ID,
		"transliteration", ref.Transliteration,
	)
	return nil
}

func (a *App) checkDataset(context.Context) error {
	if a.dataset.Len() == 0 {
		return errors.New("dataset has no verses")
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// MCP returns the tool server, for serving it over stdio.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// Scheduler returns the background job scheduler.
func (a *App) Scheduler() *schedule.Scheduler { return a.scheduler }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// It is meant as the [config.Watcher] callback. Changes that need a restart
// are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.level.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MasteryThresholdChanged {
		a.practice.SetMasteryThreshold(d.NewMasteryThreshold)
		slog.Info("mastery threshold changed", "threshold", d.NewMasteryThreshold)
	}
	if d.ChatbotChanged {
		if err := a.bot.SetRules(chatbot.RulesFromConfig(new.Chatbot)); err != nil {
			slog.Warn("chatbot rules rejected, keeping previous rules", "err", err)
		} else {
			slog.Info("chatbot rules reloaded", "topics", len(new.Chatbot.Topics))
		}
	}
	if d.CORSChanged {
		a.cors.SetOrigins(d.NewCORS)
		slog.Info("cors origins changed", "origins", d.NewCORS)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr, runs the scheduled jobs and, when
// configured, the config watcher until ctx is cancelled. It returns nil after
// a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the store and other resources opened by New. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
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

func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// LogLevel converts a config log level to its slog equivalent. Unknown
// values map to info.
func LogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
