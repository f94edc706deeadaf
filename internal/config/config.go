package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/callseason/internal/analysis"
	"github.com/rewired-gh/callseason/internal/digest"
	"github.com/rewired-gh/callseason/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WarehouseConfig holds the call-volume database location
type WarehouseConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// AnalysisConfig holds the default analysis options
type AnalysisConfig struct {
	Cycle              string   `mapstructure:"cycle"`
	SmoothingWindow    int      `mapstructure:"smoothing_window"`
	MinProminence      *float64 `mapstructure:"min_prominence"` // unset derives it from the curve range
	ProminenceFraction float64  `mapstructure:"prominence_fraction"`
	MinPoints          int      `mapstructure:"min_points"`
	MinCoverage        float64  `mapstructure:"min_coverage"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ComputeTimeout  time.Duration `mapstructure:"compute_timeout"`
}

// DigestConfig holds scheduled digest configuration
type DigestConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	Companies   []string      `mapstructure:"companies"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. CALLSEASON_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("CALLSEASON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys with a default or a file value; keys that
	// stay unset by default are bound explicitly.
	for _, key := range []string{"analysis.min_prominence"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Warehouse defaults
	v.SetDefault("warehouse.db_path", "./data/callseason.db")

	// Analysis defaults
	v.SetDefault("analysis.cycle", string(models.DayOfYear))
	v.SetDefault("analysis.smoothing_window", analysis.DefaultSmoothingWindow)
	v.SetDefault("analysis.prominence_fraction", analysis.DefaultProminenceFraction)
	v.SetDefault("analysis.min_points", analysis.DefaultMinPoints)
	v.SetDefault("analysis.min_coverage", analysis.DefaultMinCoverage)

	// Cache defaults
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.cleanup_interval", "5m")
	v.SetDefault("cache.compute_timeout", "2m")

	// Digest defaults
	v.SetDefault("digest.enabled", false)
	v.SetDefault("digest.schedule", "0 0 8 * * MON")
	v.SetDefault("digest.concurrency", 4)
	v.SetDefault("digest.timeout", "30m")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// AnalysisOptions converts the analysis section into pipeline options.
func (c *Config) AnalysisOptions() analysis.Options {
	opts := analysis.Options{
		Cycle:              models.Cycle(strings.ToLower(c.Analysis.Cycle)),
		SmoothingWindow:    c.Analysis.SmoothingWindow,
		ProminenceFraction: c.Analysis.ProminenceFraction,
		MinPoints:          c.Analysis.MinPoints,
		MinCoverage:        c.Analysis.MinCoverage,
	}
	if cycle, err := models.ParseCycle(c.Analysis.Cycle); err == nil {
		opts.Cycle = cycle
	}
	if c.Analysis.MinProminence != nil {
		opts = opts.WithMinProminence(*c.Analysis.MinProminence)
	}
	return opts
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Warehouse config
	if c.Warehouse.DBPath == "" {
		return fmt.Errorf("warehouse.db_path is required")
	}

	// Validate Analysis config
	if _, err := models.ParseCycle(c.Analysis.Cycle); err != nil {
		return fmt.Errorf("analysis.cycle: %w", err)
	}
	if err := c.AnalysisOptions().Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}

	// Validate Cache config
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Cache.CleanupInterval < 0 {
		return fmt.Errorf("cache.cleanup_interval must not be negative")
	}
	if c.Cache.ComputeTimeout < 0 {
		return fmt.Errorf("cache.compute_timeout must not be negative")
	}

	// Validate Digest config
	if c.Digest.Enabled {
		if err := digest.ValidateSchedule(c.Digest.Schedule); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
		if c.Digest.Concurrency < 1 {
			return fmt.Errorf("digest.concurrency must be at least 1")
		}
	}
	if c.Digest.Timeout < 0 {
		return fmt.Errorf("digest.timeout must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
