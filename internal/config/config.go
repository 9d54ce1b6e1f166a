package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Sync      SyncConfig      `yaml:"sync"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	MigrationsPath string `yaml:"migrations_path"`
}

type SyncConfig struct {
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	PingIntervalSec   int `yaml:"ping_interval_sec"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// RequestTimeout is the bound on a single request/reply round trip.
func (s SyncConfig) RequestTimeout() time.Duration {
	if s.RequestTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.RequestTimeoutSec) * time.Second
}

// PingInterval is how often a companion probes the authority.
func (s SyncConfig) PingInterval() time.Duration {
	if s.PingIntervalSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.PingIntervalSec) * time.Second
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix LIFTSYNC_ and underscore-separated paths:
//
//	LIFTSYNC_SERVER_HOST, LIFTSYNC_SERVER_PORT,
//	LIFTSYNC_STORE_PATH, LIFTSYNC_STORE_MIGRATIONS_PATH,
//	LIFTSYNC_SYNC_REQUEST_TIMEOUT_SEC, LIFTSYNC_SYNC_PING_INTERVAL_SEC,
//	LIFTSYNC_AUTH_API_KEY,
//	LIFTSYNC_TS_HOSTNAME, LIFTSYNC_TS_STATE_DIR
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIFTSYNC_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LIFTSYNC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LIFTSYNC_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LIFTSYNC_STORE_MIGRATIONS_PATH"); v != "" {
		cfg.Store.MigrationsPath = v
	}
	if v := os.Getenv("LIFTSYNC_SYNC_REQUEST_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RequestTimeoutSec = sec
		}
	}
	if v := os.Getenv("LIFTSYNC_SYNC_PING_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PingIntervalSec = sec
		}
	}
	if v := os.Getenv("LIFTSYNC_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("LIFTSYNC_TS_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
	if v := os.Getenv("LIFTSYNC_TS_STATE_DIR"); v != "" {
		cfg.Tailscale.StateDir = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	return nil
}
