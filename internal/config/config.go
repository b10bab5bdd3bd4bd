// Package config loads and validates debugflow configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DEBUGFLOW_FETCH_TIMEOUT_MS.
const EnvPrefix = "DEBUGFLOW"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Render  RenderConfig  `mapstructure:"render"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                     int   `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int   `mapstructure:"read_header_timeout_seconds"`
	RequestTimeoutSeconds    int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds   int   `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes             int64 `mapstructure:"max_body_bytes"`
}

// FetchConfig bounds remote script downloads.
type FetchConfig struct {
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	UserAgent    string `mapstructure:"user_agent"`
}

// RenderConfig controls page templating.
type RenderConfig struct {
	MaxEchoChars int    `mapstructure:"max_echo_chars"`
	EscapeHTML   bool   `mapstructure:"escape_html"`
	TemplatesDir string `mapstructure:"templates_dir"`
}

// TraceConfig bounds dry runs of instrumented scripts.
type TraceConfig struct {
	BudgetMs int `mapstructure:"budget_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// PORT is the conventional platform override; DEBUGFLOW_SERVER_PORT wins when both are set.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.request_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_body_bytes", 512)
	v.SetDefault("fetch.timeout_ms", 3000)
	v.SetDefault("fetch.max_body_bytes", 30000)
	v.SetDefault("fetch.user_agent", "debugflow/1.0")
	v.SetDefault("render.max_echo_chars", 1000)
	v.SetDefault("render.escape_html", false)
	v.SetDefault("render.templates_dir", "")
	v.SetDefault("trace.budget_ms", 2000)
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Fetch.TimeoutMs <= 0 {
		return fmt.Errorf("fetch.timeout_ms must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Render.MaxEchoChars <= 0 {
		return fmt.Errorf("render.max_echo_chars must be > 0")
	}
	if c.Trace.BudgetMs <= 0 {
		return fmt.Errorf("trace.budget_ms must be > 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// Addr is the public listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ReadHeaderTimeout converts the configured seconds to a duration.
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// RequestTimeout converts the configured seconds to a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout converts the configured seconds to a duration.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Timeout converts the configured milliseconds to a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Budget converts the configured milliseconds to a duration.
func (c TraceConfig) Budget() time.Duration {
	return time.Duration(c.BudgetMs) * time.Millisecond
}
