// Package app provides the shared daemon entry point for the approvd binary.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/approvd/approvd/internal/config"
	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/internal/logging"
	"github.com/approvd/approvd/internal/tracing"
)

// RunParams configures the main daemon loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// DataDir overrides the configured data directory.
	DataDir string

	// Ready, when non-nil, is closed once all modules have started. Used
	// by tests and by the service wrapper.
	Ready chan<- struct{}

	// Shutdown, when non-nil, triggers a graceful stop when closed, as an
	// alternative to SIGINT/SIGTERM. Used by the service wrapper, whose
	// manager stops the process without posix signals.
	Shutdown <-chan struct{}
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. Shutdown runs exactly once; repeated signals while
// stopping are ignored.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, redactor := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	registerConfigSecrets(redactor, cfg)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	shutdownTracing, err := tracing.Init(context.Background(), "approvd", params.Version, tracing.Config{
		Endpoint: cfg.Tracing.Endpoint,
		Insecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("config.path", cfgPath)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	// Wire the channel and recorder into the registry between LoadModules
	// and Start: services exist after provisioning, and the channel must
	// know its sink before it starts receiving signals.
	if err := wireRegistry(application, appCtx, logger); err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}
	if params.Ready != nil {
		close(params.Ready)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-params.Shutdown:
		logger.Info("shutdown requested")
	}

	var once sync.Once
	once.Do(func() {
		application.Stop()
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	})
	logger.Info("shutdown complete")
	return nil
}

// registerConfigSecrets walks every module config node and registers
// string values under secret-looking keys as redaction literals, so
// tokens never reach the log output even when a module echoes its config.
func registerConfigSecrets(redactor *logging.Redactor, cfg *config.Config) {
	for _, node := range cfg.Modules {
		var raw map[string]any
		if err := node.Decode(&raw); err != nil {
			continue
		}
		collectSecrets(redactor, raw)
	}
}

func collectSecrets(redactor *logging.Redactor, m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if isSecretKey(k) {
				redactor.AddLiteral(val)
			}
		case map[string]any:
			collectSecrets(redactor, val)
		}
	}
}

func isSecretKey(k string) bool {
	switch k {
	case "token", "app_token", "bot_token", "secret", "password", "api_key":
		return true
	}
	return false
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/approvd/approvd.yaml →
// ~/.config/approvd/approvd.yaml → ./approvd.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "approvd", "approvd.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "approvd", "approvd.yaml"))
	}

	candidates = append(candidates, "approvd.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory, ~/.approvd.
// The socket, pidfile, and history database live here unless overridden.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".approvd")
}
