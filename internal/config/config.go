// Package config loads service configuration from an optional YAML file
// plus TP_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the instance store backend.
type StoreConfig struct {
	// Backend is "postgres" or "file".
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"`
	// FilePath is the tab-separated data file used by the file backend.
	FilePath string `mapstructure:"file_path"`
}

// CacheConfig selects and configures the score cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	Size      int           `mapstructure:"size"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisPass string        `mapstructure:"redis_pass"`
	RedisDB   int           `mapstructure:"redis_db"`
}

// MetricsConfig tunes the metrics engine defaults.
type MetricsConfig struct {
	DefaultWindowDays int `mapstructure:"default_window_days"`
}

// Load reads taskpulse.yaml (if present) and the environment. Environment
// variables use the TP_ prefix with underscores, e.g. TP_STORE_BACKEND.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("taskpulse")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/taskpulse")

	setDefaults(v)

	v.SetEnvPrefix("TP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// defaults plus env vars are enough to run
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.file_path", "./data/instances.tsv")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_pass", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("metrics.default_window_days", 30)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend")
		}
	case "file":
		if c.Store.FilePath == "" {
			return fmt.Errorf("store.file_path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	return nil
}
