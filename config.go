package calsearch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bedework/go-calsearch/index"
)

// LimitsConfig caps recurrence expansion for one visibility class.
type LimitsConfig struct {
	MaxYears     int `yaml:"max_years"`
	MaxInstances int `yaml:"max_instances"`
}

func (l LimitsConfig) limits() index.Limits {
	return index.Limits{MaxYears: l.MaxYears, MaxInstances: l.MaxInstances}
}

// CrawlConfig controls the bulk reindex crawler.
type CrawlConfig struct {
	// Workers is the size of the fixed worker pool.
	Workers int `yaml:"workers"`
	// MaxAttempts caps retries per item before it is abandoned.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryDelayMillis is the base backoff between attempts.
	RetryDelayMillis int `yaml:"retry_delay_millis"`
	// Schedule is an optional cron expression for periodic crawls.
	Schedule string `yaml:"schedule"`
}

// Config is the search core configuration. Public and authenticated
// content carry separate expansion limits.
type Config struct {
	PublicLimits        LimitsConfig `yaml:"public_limits"`
	AuthenticatedLimits LimitsConfig `yaml:"authenticated_limits"`
	Crawl               CrawlConfig  `yaml:"crawl"`
	// PropertyCacheSize bounds the event-property lookup cache. When the
	// cache reaches this size it is cleared wholesale.
	PropertyCacheSize int `yaml:"property_cache_size"`
	// DefaultPageSize is used when a search request passes no page size.
	DefaultPageSize int `yaml:"default_page_size"`
}

// DefaultConfig returns the built-in defaults: a long public horizon, a
// shorter authenticated one.
func DefaultConfig() *Config {
	return &Config{
		PublicLimits:        LimitsConfig{MaxYears: 10, MaxInstances: 10000},
		AuthenticatedLimits: LimitsConfig{MaxYears: 5, MaxInstances: 2000},
		Crawl: CrawlConfig{
			Workers:          4,
			MaxAttempts:      3,
			RetryDelayMillis: 500,
		},
		PropertyCacheSize: 1000,
		DefaultPageSize:   100,
	}
}

// LoadConfig reads a YAML config file, filling in defaults for absent
// sections.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calsearch: reading config %q: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("calsearch: parsing config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("calsearch: crawl.workers must be positive")
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("calsearch: crawl.max_attempts must be positive")
	}
	if c.PropertyCacheSize <= 0 {
		return fmt.Errorf("calsearch: property_cache_size must be positive")
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("calsearch: default_page_size must be positive")
	}
	return nil
}
