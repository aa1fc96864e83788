// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for approvd.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is the directory for runtime state (socket, pidfile, history
	// database). Defaults to ~/.approvd when empty.
	DataDir string `yaml:"data_dir,omitempty"`

	// Log controls daemon logging.
	Log LogConfig `yaml:"log,omitempty"`

	// Tracing enables OTLP trace export when an endpoint is set.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "channel.slack").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig controls the daemon's slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format,omitempty"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector host:port. Tracing is disabled
	// when empty.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `yaml:"insecure,omitempty"`
}
