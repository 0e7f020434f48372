// Package config loads webpconv settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AnyUserName/webpconv/internal/backend"
	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/profile"
)

// Config holds all configuration for webpconv.
type Config struct {
	// Converters is the fallback order. Empty means the built-in order.
	Converters []string      `yaml:"converters"`
	Timeout    time.Duration `yaml:"timeout"`
	Profile    string        `yaml:"profile"`
	Workers    int           `yaml:"workers"`

	// Options apply to every converter; ConverterOptions override them per
	// converter.
	Options          map[string]any            `yaml:"options"`
	ConverterOptions map[string]map[string]any `yaml:"converter_options"`

	ConverterSettings map[string]ConverterSettings `yaml:"converter_settings"`

	ProbeCache ProbeCacheConfig `yaml:"probe_cache"`
	Log        LogConfig        `yaml:"log"`
	History    HistoryConfig    `yaml:"history"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Server     ServerConfig     `yaml:"server"`
}

// ConverterSettings holds host-specific settings for one converter.
type ConverterSettings struct {
	Binary       string `yaml:"binary"`
	URL          string `yaml:"url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	AutoFallback string `yaml:"auto_fallback"`
}

// APIKey reads the credential from the configured environment variable.
func (s ConverterSettings) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// ProbeCacheConfig controls how long probe verdicts are reused.
type ProbeCacheConfig struct {
	Driver string        `yaml:"driver"` // none, memory or redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	// Textfile, when set, receives node-exporter textfile metrics after
	// each command.
	Textfile string `yaml:"textfile"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Timeout: 2 * time.Minute,
		Profile: "default",
		ConverterSettings: map[string]ConverterSettings{
			"wpc": {APIKeyEnv: "WEBPCONV_WPC_API_KEY"},
		},
		ProbeCache: ProbeCacheConfig{
			Driver: "memory",
			TTL:    5 * time.Minute,
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "webpconv:"},
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		History: HistoryConfig{Path: "webpconv-history.db"},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadMB:    32,
			RequestTimeout: 5 * time.Minute,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that do not depend on the host.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if _, err := profile.Get(c.Profile); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	known := backend.DefaultOrder()
	seen := make(map[string]bool, len(c.Converters))
	for _, name := range c.Converters {
		if !slices.Contains(known, name) {
			return fmt.Errorf("converters: unknown converter %q (have %s)", name, strings.Join(known, ", "))
		}
		if seen[name] {
			return fmt.Errorf("converters: %q listed twice", name)
		}
		seen[name] = true
	}
	for name := range c.ConverterOptions {
		if !slices.Contains(known, name) {
			return fmt.Errorf("converter_options: unknown converter %q", name)
		}
	}
	for name := range c.ConverterSettings {
		if !slices.Contains(known, name) {
			return fmt.Errorf("converter_settings: unknown converter %q", name)
		}
	}
	if !slices.Contains([]string{"none", "memory", "redis"}, c.ProbeCache.Driver) {
		return fmt.Errorf("invalid probe cache driver: %s", c.ProbeCache.Driver)
	}
	if c.ProbeCache.Driver != "none" && c.ProbeCache.TTL <= 0 {
		return fmt.Errorf("probe cache ttl must be positive")
	}
	if c.ProbeCache.Driver == "redis" && c.ProbeCache.Redis.Addr == "" {
		return fmt.Errorf("probe cache redis addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path is required when history is enabled")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server max_upload_mb must be positive")
	}
	return nil
}

// BackendSettings converts converter_settings for backend.Registry,
// resolving API keys from the environment.
func (c *Config) BackendSettings() map[string]backend.Settings {
	out := make(map[string]backend.Settings, len(c.ConverterSettings))
	for name, s := range c.ConverterSettings {
		out[name] = backend.Settings{
			Binary:       s.Binary,
			URL:          s.URL,
			APIKey:       s.APIKey(),
			AutoFallback: s.AutoFallback,
		}
	}
	return out
}

// SharedOptions returns a copy of the options applied to every converter.
func (c *Config) SharedOptions() convert.Options {
	return convert.Options(c.Options).Clone()
}

// ScopedOptions returns converter_options keyed by converter name.
func (c *Config) ScopedOptions() map[string]convert.Options {
	out := make(map[string]convert.Options, len(c.ConverterOptions))
	for name, opts := range c.ConverterOptions {
		out[name] = convert.Options(opts).Clone()
	}
	return out
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEBPCONV_CONVERTERS"); v != "" {
		var names []string
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		cfg.Converters = names
	}

	if v := os.Getenv("WEBPCONV_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}

	if v := os.Getenv("WEBPCONV_PROFILE"); v != "" {
		cfg.Profile = v
	}

	if v := os.Getenv("WEBPCONV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("WEBPCONV_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("WEBPCONV_REDIS_ADDR"); v != "" {
		cfg.ProbeCache.Driver = "redis"
		cfg.ProbeCache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if s, ok := cfg.ConverterSettings["wpc"]; ok && s.APIKeyEnv == "" {
		s.APIKeyEnv = "WEBPCONV_WPC_API_KEY"
		cfg.ConverterSettings["wpc"] = s
	}

	if v := os.Getenv("WEBPCONV_WPC_URL"); v != "" {
		if cfg.ConverterSettings == nil {
			cfg.ConverterSettings = map[string]ConverterSettings{}
		}
		s := cfg.ConverterSettings["wpc"]
		s.URL = v
		if s.APIKeyEnv == "" {
			s.APIKeyEnv = "WEBPCONV_WPC_API_KEY"
		}
		cfg.ConverterSettings["wpc"] = s
	}
}
