package history

import "fmt"

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "history.db"
)

// Config holds the SQLite history module configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/history.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// Retention is how many days of decisions to keep. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("history: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("history: retention_days must be non-negative, got %d", c.RetentionDays)
	}
	return nil
}
