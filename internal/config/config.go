// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// maxFacilityNameLen keeps registered names well inside the wire
// format's uint16 string prefix.
const maxFacilityNameLen = 255

type ReplyCacheConfig struct {
	Enabled          bool   `yaml:"enabled"`
	RetentionSeconds int    `yaml:"retention_seconds"`
	PurgeCron        string `yaml:"purge_cron"`
}

type ServerConfig struct {
	ListenAddr string           `yaml:"listen_addr"`
	Workers    int              `yaml:"workers"`
	OpsPort    int              `yaml:"ops_port"`
	ReplyCache ReplyCacheConfig `yaml:"reply_cache"`
}

type ClientConfig struct {
	ServerAddr string `yaml:"server_addr"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
}

type TransportConfig struct {
	DropRate      float64 `yaml:"drop_rate"`
	DuplicateRate float64 `yaml:"duplicate_rate"`
}

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Client      ClientConfig    `yaml:"client"`
	Transport   TransportConfig `yaml:"transport"`
	Facilities  []string        `yaml:"facilities"`
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"log_level"`
}

// Load loads both .env and yaml configuration.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Environment overrides for the knobs that vary per run.
	if v := os.Getenv("COURTLINE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("COURTLINE_SERVER_ADDR"); v != "" {
		cfg.Client.ServerAddr = v
	}
	if v := os.Getenv("COURTLINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "0.0.0.0:34524",
			Workers:    8,
			OpsPort:    8080,
			ReplyCache: ReplyCacheConfig{
				Enabled:          true,
				RetentionSeconds: 60,
				PurgeCron:        "* * * * *",
			},
		},
		Client: ClientConfig{
			ServerAddr: "127.0.0.1:34524",
			TimeoutMS:  500,
			MaxRetries: 10,
		},
		Environment: "development",
		LogLevel:    "info",
	}
}

// RetryTimeout returns the client's per-attempt timeout.
func (c *ClientConfig) RetryTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Retention returns how long cached replies are kept.
func (r *ReplyCacheConfig) Retention() time.Duration {
	return time.Duration(r.RetentionSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen_addr is required")
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server workers must be at least 1")
	}
	if c.Client.ServerAddr == "" {
		return fmt.Errorf("client server_addr is required")
	}
	if c.Client.TimeoutMS <= 0 {
		return fmt.Errorf("client timeout_ms must be positive")
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client max_retries must not be negative")
	}
	if c.Transport.DropRate < 0 || c.Transport.DropRate > 1 {
		return fmt.Errorf("transport drop_rate must be within [0, 1]")
	}
	if c.Transport.DuplicateRate < 0 || c.Transport.DuplicateRate > 1 {
		return fmt.Errorf("transport duplicate_rate must be within [0, 1]")
	}
	if len(c.Facilities) == 0 {
		return fmt.Errorf("at least one facility is required")
	}
	seen := make(map[string]struct{}, len(c.Facilities))
	for _, name := range c.Facilities {
		if name == "" {
			return fmt.Errorf("facility names must not be empty")
		}
		if len(name) > maxFacilityNameLen {
			return fmt.Errorf("facility name %q exceeds %d bytes", name, maxFacilityNameLen)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate facility name %q", name)
		}
		seen[name] = struct{}{}
	}
	if c.Server.ReplyCache.Enabled {
		if c.Server.ReplyCache.RetentionSeconds <= 0 {
			return fmt.Errorf("reply_cache retention_seconds must be positive")
		}
		if _, err := cron.ParseStandard(c.Server.ReplyCache.PurgeCron); err != nil {
			return fmt.Errorf("invalid reply_cache purge_cron: %w", err)
		}
	}
	return nil
}
