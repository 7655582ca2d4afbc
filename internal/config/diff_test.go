package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/gitapractice/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no hot-reloadable change, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart, got %v", d.RestartRequired)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name:   "mastery threshold",
			mutate: func(c *config.Config) { c.Practice.MasteryThreshold = 60 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.MasteryThresholdChanged || d.NewMasteryThreshold != 60 {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name: "chatbot topics",
			mutate: func(c *config.Config) {
				c.Chatbot.Topics = []config.TopicConfig{{Name: "peace", Keywords: []string{"peace"}, Verses: []config.VerseRef{{Chapter: 2, VerseID: "66"}}}}
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.ChatbotChanged {
					t.Errorf("got %+v", d)
				}
			},
		},
		{
			name:   "cors",
			mutate: func(c *config.Config) { c.Server.CORSOrigins = []string{"https://gita.example.com"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.CORSChanged || !slices.Equal(d.NewCORS, []string{"https://gita.example.com"}) {
					t.Errorf("got %+v", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.Changed() {
				t.Fatal("Changed() = false")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("unexpected restart sections %v", d.RestartRequired)
			}
			tt.check(t, d)
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := config.Default(), config.Default()
	new.Server.ListenAddr = ":9999"
	new.Store.Backend = config.BackendSQLite
	new.MCP.Enabled = true

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("restart-only edits should not report a hot change: %+v", d)
	}
	want := []string{"server.listen_addr", "store", "mcp"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
