// Package config loads the crawl pipeline core's configuration — the
// options table from spec.md §6 plus the ambient logging and storage
// settings needed to run cmd/crawld.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/caiatech/crawlcore/pkg/logging"
)

// Config is the full set of options the core recognizes.
type Config struct {
	// WorkerCount is the number of parallel pipeline workers.
	// Default: min(2*NumCPU, 8).
	WorkerCount int `mapstructure:"worker_count"`

	// MaxDemand is the per-worker in-flight ceiling.
	MaxDemand int `mapstructure:"max_demand"`

	// MinDemand is the per-worker demand low-water mark.
	MinDemand int `mapstructure:"min_demand"`

	// RetryCeiling is the max retries before a URL is terminally failed.
	RetryCeiling int `mapstructure:"retry_ceiling"`

	// CrawledTTL is the registry TTL for successfully crawled URLs.
	CrawledTTL time.Duration `mapstructure:"crawled_ttl"`

	// SweepInterval is the registry expiration sweep cadence.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// ProducerPollInterval is the producer's empty-queue re-poll interval.
	ProducerPollInterval time.Duration `mapstructure:"producer_poll_interval"`

	// PolitenessInterval is the minimum spacing between requests to
	// the same domain. Zero disables politeness pacing.
	PolitenessInterval time.Duration `mapstructure:"politeness_interval"`

	// PostgresDSN is the connection string for the postgres-backed
	// persistence adapter. Empty means the caller should use the
	// in-memory adapter instead.
	PostgresDSN string `mapstructure:"postgres_dsn"`

	Logging *logging.LogConfig `mapstructure:"logging"`
}

// Default returns the configuration described by spec.md §6, with
// WorkerCount resolved against the given core count (pass
// runtime.NumCPU() in production; tests pass a fixed value instead).
func Default(numCPU int) *Config {
	workers := numCPU * 2
	if workers > 8 {
		workers = 8
	}
	if workers < 1 {
		workers = 1
	}

	return &Config{
		WorkerCount:          workers,
		MaxDemand:            2,
		MinDemand:            1,
		RetryCeiling:         3,
		CrawledTTL:           24 * time.Hour,
		SweepInterval:        1 * time.Hour,
		ProducerPollInterval: 1 * time.Second,
		PolitenessInterval:   0,
		Logging:              logging.DefaultLogConfig(),
	}
}

// Load reads configuration from an optional YAML file (if path is
// non-empty) and environment variables prefixed CRAWLCORE_, layered
// on top of Default(numCPU). Environment variables take precedence
// over the file, which takes precedence over defaults.
func Load(path string, numCPU int) (*Config, error) {
	defaults := Default(numCPU)

	v := viper.New()
	v.SetEnvPrefix("crawlcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("worker_count", defaults.WorkerCount)
	v.SetDefault("max_demand", defaults.MaxDemand)
	v.SetDefault("min_demand", defaults.MinDemand)
	v.SetDefault("retry_ceiling", defaults.RetryCeiling)
	v.SetDefault("crawled_ttl", defaults.CrawledTTL)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("producer_poll_interval", defaults.ProducerPollInterval)
	v.SetDefault("politeness_interval", defaults.PolitenessInterval)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.console", defaults.Logging.Console)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Logging == nil {
		cfg.Logging = defaults.Logging
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.MaxDemand <= 0 {
		return fmt.Errorf("max_demand must be positive, got %d", c.MaxDemand)
	}
	if c.MinDemand <= 0 || c.MinDemand > c.MaxDemand {
		return fmt.Errorf("min_demand must be in (0, max_demand], got %d", c.MinDemand)
	}
	if c.RetryCeiling < 0 {
		return fmt.Errorf("retry_ceiling must be non-negative, got %d", c.RetryCeiling)
	}
	return nil
}
