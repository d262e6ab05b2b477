// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the GoChat service.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultTCPAddr          = "0.0.0.0:5555"
	defaultHTTPAddr         = ":8080"
	defaultMaxMessageLength = 500
	defaultMaxFrameBytes    = 4096
	defaultHistorySize      = 100
	defaultSendBuffer       = 256
	defaultWriteTimeout     = 10 * time.Second
	defaultShutdownTimeout  = 5 * time.Second

	// EnvPrefix namespaces environment overrides, e.g. GOCHAT_TCP_ADDR.
	EnvPrefix = "GOCHAT"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// A zero Burst disables limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// LogConfig selects the log level and output format ("text" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds the server configuration settings.
type Config struct {
	TCPAddr          string          `mapstructure:"tcp_addr"`
	HTTPAddr         string          `mapstructure:"http_addr"`
	AllowedOrigins   []string        `mapstructure:"allowed_origins"`
	MaxMessageLength int             `mapstructure:"max_message_length"`
	MaxFrameBytes    int             `mapstructure:"max_frame_bytes"`
	HistorySize      int             `mapstructure:"history_size"`
	SendBuffer       int             `mapstructure:"send_buffer"`
	WriteTimeout     time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	Log              LogConfig       `mapstructure:"log"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() Config {
	return Config{
		TCPAddr:  defaultTCPAddr,
		HTTPAddr: defaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageLength: defaultMaxMessageLength,
		MaxFrameBytes:    defaultMaxFrameBytes,
		HistorySize:      defaultHistorySize,
		SendBuffer:       defaultSendBuffer,
		WriteTimeout:     defaultWriteTimeout,
		ShutdownTimeout:  defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Burst:          0,
			RefillInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads defaults, then the optional YAML file at path, then
// GOCHAT_* environment variables, and returns the sanitized result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, NewConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return SanitizeConfig(cfg), nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("tcp_addr", cfg.TCPAddr)
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("allowed_origins", cfg.AllowedOrigins)
	v.SetDefault("max_message_length", cfg.MaxMessageLength)
	v.SetDefault("max_frame_bytes", cfg.MaxFrameBytes)
	v.SetDefault("history_size", cfg.HistorySize)
	v.SetDefault("send_buffer", cfg.SendBuffer)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", cfg.RateLimit.RefillInterval)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// SanitizeConfig replaces out-of-range values with defaults. An empty
// HTTPAddr is kept and disables the HTTP listener.
func SanitizeConfig(cfg Config) Config {
	if strings.TrimSpace(cfg.TCPAddr) == "" {
		cfg.TCPAddr = defaultTCPAddr
	}

	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}

	// Every message within the policy limit must fit in one frame, at up to
	// four bytes per character.
	if cfg.MaxFrameBytes < cfg.MaxMessageLength*4 {
		cfg.MaxFrameBytes = max(defaultMaxFrameBytes, cfg.MaxMessageLength*4)
	}

	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}

	// A joining client receives the welcome banner, header, footer and the
	// whole history in one burst.
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if minimum := cfg.HistorySize + 4; cfg.SendBuffer < minimum {
		cfg.SendBuffer = minimum
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOrigins)
	return cfg
}

func parseOrigins(origins []string) []string {
	parsed := make([]string, 0, len(origins))
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
	}
	return parsed
}
