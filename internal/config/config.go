// Package config loads relay configuration from defaults, an optional
// config file under CONFIG_DIR, and environment variables, in that order
// of increasing precedence — the same layering hft-bot/pkg/config.Load uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the relay reads at startup.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	ConfigDir string          `mapstructure:"config_dir"`
}

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// SessionConfig controls session-store capacity and lifetimes. Id and
// secret length are fixed by the wire protocol (spec.md §6's short-link
// regex), not configurable here.
type SessionConfig struct {
	MaxSessions   int           `mapstructure:"max_sessions"`
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	ConnectedTTL  time.Duration `mapstructure:"connected_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig controls the fixed-window limiter on POST /session.
type RateLimitConfig struct {
	WindowMs      int64         `mapstructure:"window_ms"`
	MaxRequests   int           `mapstructure:"max_requests"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds a Config using viper: programmatic defaults, then
// CONFIG_DIR/config.yaml if present, then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnv(v)

	configDir := v.GetString("config_dir")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigDir = configDir
	return &cfg, nil
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3700)
	v.SetDefault("server.host", "0.0.0.0")

	v.SetDefault("session.max_sessions", 10000)
	v.SetDefault("session.pending_ttl", 5*time.Minute)
	v.SetDefault("session.connected_ttl", 24*time.Hour)
	v.SetDefault("session.sweep_interval", 60*time.Second)

	v.SetDefault("rate_limit.window_ms", int64(60_000))
	v.SetDefault("rate_limit.max_requests", 10)
	v.SetDefault("rate_limit.sweep_interval", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("config_dir", "./config")
}

// bindEnv maps the spec's documented environment variables onto the
// nested viper keys (PORT, HOST, MAX_SESSIONS, CONFIG_DIR).
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.host", "HOST")
	_ = v.BindEnv("session.max_sessions", "MAX_SESSIONS")
	_ = v.BindEnv("config_dir", "CONFIG_DIR")
}
