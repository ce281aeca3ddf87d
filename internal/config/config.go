package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. TABGROUPER_PORT.
const Prefix = "tabgrouper"

// Config holds settings shared by every subcommand.
type Config struct {
	Port         int           `envconfig:"PORT" default:"19192"`
	DBPath       string        `envconfig:"DB"`
	LogDir       string        `envconfig:"LOG_DIR"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	CallTimeout  time.Duration `envconfig:"CALL_TIMEOUT" default:"10s"`
	CDPURL       string        `envconfig:"CDP_URL"`
	Profile      string        `envconfig:"PROFILE"`
}

// Load reads configuration from the environment and fills path defaults
// under ~/.local/share/tabgrouper.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DBPath == "" || cfg.LogDir == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, err
		}
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(dir, "tabgrouper.db")
		}
		if cfg.LogDir == "" {
			cfg.LogDir = dir
		}
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("load config: poll interval must be positive, got %s", cfg.PollInterval)
	}
	return &cfg, nil
}

// DataDir returns ~/.local/share/tabgrouper.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabgrouper"), nil
}

// URL returns the bridge WebSocket URL for the given surface.
func (c *Config) URL(surface string) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/ws?surface=%s", c.Port, surface)
}
