package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Settings the MCP
// server can apply to its next extraction are tracked individually; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true if any pipeline setting changed.
	PipelineChanged bool

	// RetryChanged is true if the retry policy changed.
	RetryChanged bool

	// RestartRequired names the top-level sections that changed but only
	// take effect after a restart (e.g., "providers", "cache").
	RestartRequired []string
}

// Empty reports whether the two configs were equivalent.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PipelineChanged && !d.RetryChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PipelineChanged = pipelineChanged(old.Pipeline, new.Pipeline)
	d.RetryChanged = old.Retry != new.Retry

	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"providers", old.Providers, new.Providers},
		{"fallbacks", old.Fallbacks, new.Fallbacks},
		{"cache", old.Cache, new.Cache},
		{"telemetry", old.Telemetry, new.Telemetry},
		{"library", old.Library, new.Library},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}

func pipelineChanged(old, new PipelineConfig) bool {
	if old.InputLockEnabled() != new.InputLockEnabled() {
		return true
	}
	old.LockInput, new.LockInput = nil, nil
	return !reflect.DeepEqual(old, new)
}
