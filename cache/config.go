package cache

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the pubtree daemon configuration.
//
// WriteBack and PollDisk are mutually exclusive: a process either owns the
// snapshot (writes every change to disk) or follows it (polls the disk for
// changes made by the owning process). Enabling both is a startup error.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// SnapshotPath is the snapshot file location. Empty disables the
	// snapshot store entirely.
	SnapshotPath string `yaml:"snapshot_path"`
	// WriteBack writes every tree change to the snapshot (debounced).
	WriteBack bool `yaml:"write_back"`
	// PollDisk reloads from the snapshot when it changes underneath us.
	PollDisk bool `yaml:"poll_disk"`
	// PollInterval caps how often a read performs the staleness check.
	// Default: 1s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Debounce is the snapshot writer's quiet window. Default: 5s.
	Debounce time.Duration `yaml:"debounce"`
	// RebuildPageSize is the rebuild paging size. Default: 500.
	RebuildPageSize int `yaml:"rebuild_page_size"`
	// ListenAddr is the admin HTTP listen address. Default: ":8087".
	ListenAddr string `yaml:"listen_addr"`
	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`
}

// ErrConflictingConfig is returned when both write-back and disk polling
// are enabled.
var ErrConflictingConfig = errors.New("cache: write_back and poll_disk are mutually exclusive")

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 5 * time.Second
	}
	if c.RebuildPageSize <= 0 {
		c.RebuildPageSize = 500
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8087"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration and applies defaults. It refuses the
// write-back + poll-disk combination outright.
func (c *Config) Validate() error {
	c.defaults()
	if c.WriteBack && c.PollDisk {
		return ErrConflictingConfig
	}
	if (c.WriteBack || c.PollDisk) && c.SnapshotPath == "" {
		return errors.New("cache: write_back/poll_disk require snapshot_path")
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file and validates it.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cache: read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cache: parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
