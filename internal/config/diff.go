package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; everything
// else is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MasteryThresholdChanged bool
	NewMasteryThreshold     float64

	ChatbotChanged bool

	CORSChanged bool
	NewCORS     []string

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart (e.g. "store", "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MasteryThresholdChanged || d.ChatbotChanged || d.CORSChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Practice.MasteryThreshold != new.Practice.MasteryThreshold {
		d.MasteryThresholdChanged = true
		d.NewMasteryThreshold = new.Practice.MasteryThreshold
	}
	if !reflect.DeepEqual(old.Chatbot, new.Chatbot) {
		d.ChatbotChanged = true
	}
	if !slices.Equal(old.Server.CORSOrigins, new.Server.CORSOrigins) {
		d.CORSChanged = true
		d.NewCORS = slices.Clone(new.Server.CORSOrigins)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.ReadTimeout != new.Server.ReadTimeout || old.Server.WriteTimeout != new.Server.WriteTimeout {
		d.RestartRequired = append(d.RestartRequired, "server.timeouts")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Dataset != new.Dataset {
		d.RestartRequired = append(d.RestartRequired, "dataset")
	}
	if old.Practice.DefaultUser != new.Practice.DefaultUser {
		d.RestartRequired = append(d.RestartRequired, "practice.default_user")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Schedule != new.Schedule {
		d.RestartRequired = append(d.RestartRequired, "schedule")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
