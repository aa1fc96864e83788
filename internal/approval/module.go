package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/internal/cron"
	"github.com/approvd/approvd/internal/metrics"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config is the YAML configuration for the registry module.
type Config struct {
	// DedupWindow collapses identical submissions arriving within it.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// StaleAfter is the hard eviction threshold for abandoned requests.
	StaleAfter time.Duration `yaml:"stale_after"`

	// SweepSchedule is the cron schedule of the eviction sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

func (c *Config) defaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 60s"
	}
}

// Module hosts the Registry and its sweep scheduler.
type Module struct {
	config    Config
	logger    *slog.Logger
	registry  *Registry
	scheduler *cron.Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "approval.registry",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("approval: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. The registry is built here and
// published for the gateway and channel modules; the channel itself is wired
// by the app after all modules have loaded.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.registry = New(Params{
		Logger:      ctx.Logger,
		Metrics:     metrics.New(prometheus.DefaultRegisterer),
		DedupWindow: m.config.DedupWindow,
		StaleAfter:  m.config.StaleAfter,
	})

	m.scheduler = cron.NewScheduler(ctx.Logger)
	if err := m.scheduler.RegisterJob(&sweepJob{
		registry: m.registry,
		schedule: m.config.SweepSchedule,
	}); err != nil {
		return err
	}

	ctx.RegisterService("approval.registry", m.registry)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.DedupWindow >= m.config.StaleAfter {
		return fmt.Errorf("approval: dedup_window (%s) must be shorter than stale_after (%s)",
			m.config.DedupWindow, m.config.StaleAfter)
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	return m.scheduler.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}

// Registry exposes the registry for app wiring.
func (m *Module) Registry() *Registry {
	return m.registry
}

// sweepJob runs the staleness eviction on the configured schedule.
type sweepJob struct {
	registry *Registry
	schedule string
}

func (j *sweepJob) Name() string     { return "approval.sweep" }
func (j *sweepJob) Schedule() string { return j.schedule }

func (j *sweepJob) Run(_ context.Context) error {
	j.registry.Sweep(time.Now())
	return nil
}
