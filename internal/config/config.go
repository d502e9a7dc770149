// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Browser BrowserConfig `mapstructure:"browser"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Target  TargetConfig  `mapstructure:"target"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// LimitsConfig configures the admission gate.
type LimitsConfig struct {
	WindowMs        int `mapstructure:"window_ms"`
	MaxRequests     int `mapstructure:"max_requests"`
	SweepIntervalMs int `mapstructure:"sweep_interval_ms"`
}

// BrowserConfig configures the dynamic extraction tier.
type BrowserConfig struct {
	UserAgent          string  `mapstructure:"user_agent"`
	NavTimeoutSec      int     `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs      int     `mapstructure:"settle_delay_ms"`
	RevealSettleMs     int     `mapstructure:"reveal_settle_ms"`
	RevealMaxIters     int     `mapstructure:"reveal_max_iterations"`
	ChallengeWaitMs    int     `mapstructure:"challenge_wait_ms"`
	ChallengePollMs    int     `mapstructure:"challenge_poll_ms"`
	PerHostQPS         float64 `mapstructure:"per_host_qps"`
	DisableDynamicTier bool    `mapstructure:"disable_dynamic_tier"`
}

// FetchConfig configures the static extraction tier.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// TargetConfig restricts which hosts may be extracted from.
type TargetConfig struct {
	AllowedHostSuffixes []string `mapstructure:"allowed_host_suffixes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("limits.window_ms", 60000)
	v.SetDefault("limits.max_requests", 5)
	v.SetDefault("limits.sweep_interval_ms", 60000)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.settle_delay_ms", 2000)
	v.SetDefault("browser.reveal_settle_ms", 1000)
	v.SetDefault("browser.reveal_max_iterations", 50)
	v.SetDefault("browser.challenge_wait_ms", 120000)
	v.SetDefault("browser.challenge_poll_ms", 2000)
	v.SetDefault("browser.per_host_qps", 0.5)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("target.allowed_host_suffixes", []string{"fiverr.com"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Limits.WindowMs <= 0 {
		return fmt.Errorf("limits.window_ms must be > 0")
	}
	if c.Limits.MaxRequests <= 0 {
		return fmt.Errorf("limits.max_requests must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.RevealMaxIters <= 0 {
		return fmt.Errorf("browser.reveal_max_iterations must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if len(c.Target.AllowedHostSuffixes) == 0 {
		return fmt.Errorf("target.allowed_host_suffixes must not be empty")
	}
	return nil
}

// Window returns the admission window length.
func (c Config) Window() time.Duration {
	return time.Duration(c.Limits.WindowMs) * time.Millisecond
}

// SweepInterval returns the gate sweep interval.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Limits.SweepIntervalMs) * time.Millisecond
}
