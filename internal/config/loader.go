package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout %s must not be negative", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout %s must not be negative", cfg.Server.WriteTimeout))
	}
	for i, origin := range cfg.Server.CORSOrigins {
		if origin == "" {
			errs = append(errs, fmt.Errorf("server.cors_origins[%d] must not be empty", i))
		}
	}

	// Store
	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Backend))
	case cfg.Store.Backend == BackendPostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	case cfg.Store.Backend == BackendMemory:
		slog.Warn("store.backend is memory; bookmarks and progress are lost on restart")
	}
	if cfg.Store.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("store.default_limit %d must not be negative", cfg.Store.DefaultLimit))
	}
	switch {
	case cfg.Store.MaxLimit < 0:
		errs = append(errs, fmt.Errorf("store.max_limit %d must not be negative", cfg.Store.MaxLimit))
	case cfg.Store.MaxLimit > 0 && cfg.Store.DefaultLimit > cfg.Store.MaxLimit:
		errs = append(errs, fmt.Errorf("store.default_limit %d exceeds store.max_limit %d", cfg.Store.DefaultLimit, cfg.Store.MaxLimit))
	}

	// Practice
	if t := cfg.Practice.MasteryThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("practice.mastery_threshold %.2f is out of range [0, 100]", t))
	}

	// Chatbot
	topicsSeen := make(map[string]int, len(cfg.Chatbot.Topics))
	for i, topic := range cfg.Chatbot.Topics {
		prefix := fmt.Sprintf("chatbot.topics[%d]", i)
		if topic.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := topicsSeen[topic.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of chatbot.topics[%d]", prefix, topic.Name, prev))
			}
			topicsSeen[topic.Name] = i
		}
		if len(topic.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("%s.keywords must not be empty", prefix))
		}
		if len(topic.Verses) == 0 {
			errs = append(errs, fmt.Errorf("%s.verses must not be empty", prefix))
		}
		for j, ref := range topic.Verses {
			if err := validateRef(ref); err != nil {
				errs = append(errs, fmt.Errorf("%s.verses[%d]: %w", prefix, j, err))
			}
		}
	}
	if !cfg.Chatbot.Fallback.IsZero() {
		if err := validateRef(cfg.Chatbot.Fallback); err != nil {
			errs = append(errs, fmt.Errorf("chatbot.fallback: %w", err))
		}
	}

	// Schedule
	for name, spec := range map[string]string{"schedule.heartbeat": cfg.Schedule.Heartbeat, "schedule.daily_verse": cfg.Schedule.DailyVerse} {
		if spec == "" || spec == ScheduleOff {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", name, spec, err))
		}
	}

	// MCP + telemetry paths share the mux with the API.
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if cfg.Telemetry.MetricsPath != "" && !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}
	if cfg.MCP.Enabled && cfg.MCP.Path != "" && cfg.MCP.Path == cfg.Telemetry.MetricsPath {
		errs = append(errs, fmt.Errorf("mcp.path and telemetry.metrics_path must differ (both %q)", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

func validateRef(ref VerseRef) error {
	var errs []error
	if ref.Chapter < 1 || ref.Chapter > 18 {
		errs = append(errs, fmt.Errorf("chapter %d is out of range [1, 18]", ref.Chapter))
	}
	if ref.VerseID == "" {
		errs = append(errs, errors.New("verse_id is required"))
	}
	return errors.Join(errs...)
}
