// Command gitapractice serves the Gita pronunciation practice API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/gitapractice/internal/app"
	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var (
		configPath  string
		listenAddr  string
		stdioMCP    bool
		printConfig bool
		showVersion bool
	)
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file; defaults apply when it does not exist")
	pflag.StringVar(&listenAddr, "listen", "", "override server.listen_addr")
	pflag.BoolVar(&stdioMCP, "stdio-mcp", false, "serve the MCP tools over stdin/stdout instead of HTTP")
	pflag.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	pflag.BoolVar(&showVersion, "version", false, "print the version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("gitapractice", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(configPath, pflag.CommandLine.Changed("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gitapractice: %v\n", err)
		return 1
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if printConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "gitapractice: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.LogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("gitapractice starting",
		"version", version,
		"config", configPath,
		"config_file", fromFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	appOpts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.Handler),
		app.WithLevelVar(level),
		app.WithVersion(version),
	}
	if fromFile {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			appOpts = append(appOpts, app.WithConfigWatcher(watcher))
		}
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(os.Stderr, cfg, stdioMCP)

	if stdioMCP {
		slog.Info("serving MCP over stdio")
		err = application.MCP().RunStdio(ctx)
	} else {
		slog.Info("server ready, press Ctrl+C to shut down")
		err = application.Run(ctx)
	}
	exit := 0
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// loadConfig reads path. A missing file falls back to the defaults unless the
// path was given explicitly.
func loadConfig(path string, explicit bool) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return config.Default(), false, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("config file %q not found", path)
	default:
		return nil, false, err
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, stdio bool) {
	mode := "http " + cfg.Server.ListenAddr
	if stdio {
		mode = "mcp over stdio"
	}
	mcpRoute := "(disabled)"
	if cfg.MCP.Enabled {
		mcpRoute = cfg.MCP.Path
	}
	dataset := cfg.Dataset.Path
	if dataset == "" {
		dataset = "(embedded)"
	}

	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      gitapractice, startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Mode", mode)
	printRow(w, "Store", string(cfg.Store.Backend))
	printRow(w, "Dataset", dataset)
	printRow(w, "MCP route", mcpRoute)
	printRow(w, "Metrics", cfg.Telemetry.MetricsPath)
	printRow(w, "Heartbeat", cfg.Schedule.Heartbeat)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
