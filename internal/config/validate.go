package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/approvd/approvd/internal/core"
)

// Required modules: the daemon cannot do its job without the registry
// and the socket gateway.
var requiredModules = []string{"approval.registry", "gateway.socket"}

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures the required modules are
// configured, checks that all referenced module IDs exist in the
// registry, and enforces that exactly one decision channel is enabled.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	for _, id := range requiredModules {
		if _, exists := cfg.Modules[id]; !exists {
			errs = append(errs, fmt.Errorf("config: required module %q is not configured", id))
		}
	}

	errs = append(errs, validateChannels(cfg)...)
	errs = append(errs, validateLog(cfg.Log)...)

	return errors.Join(errs...)
}

// validateChannels enforces that exactly one channel.* module is configured.
// Decisions must have a single authoritative surface; two channels would
// race each other on the same request.
func validateChannels(cfg *Config) []error {
	var channels []string
	for id := range cfg.Modules {
		if strings.HasPrefix(id, "channel.") {
			channels = append(channels, id)
		}
	}

	switch len(channels) {
	case 0:
		return []error{errors.New("config: exactly one channel.* module must be configured, got none")}
	case 1:
		return nil
	default:
		return []error{fmt.Errorf("config: exactly one channel.* module must be configured, got %d", len(channels))}
	}
}

func validateLog(lc LogConfig) []error {
	var errs []error

	switch lc.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", lc.Level))
	}

	switch lc.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of text, json", lc.Format))
	}

	return errs
}
