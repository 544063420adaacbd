package config

import "time"

// Config holds configuration for the broker and the sync clients.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	TransportURL      string        `mapstructure:"transport_url" yaml:"transport_url"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	TokenSecret       string        `mapstructure:"token_secret" yaml:"token_secret"`
	TokenIssuer       string        `mapstructure:"token_issuer" yaml:"token_issuer"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		LogLevel:          "info",
		DatabasePath:      "roomsync.db",
		TransportURL:      "ws://localhost:8080/ws",
		PollInterval:      500 * time.Millisecond,
		TokenSecret:       "dev-secret-change-me",
		TokenIssuer:       "quizarena",
		TokenTTL:          24 * time.Hour,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.TransportURL != "" {
		c.TransportURL = other.TransportURL
	}
	if other.PollInterval != 0 {
		c.PollInterval = other.PollInterval
	}
	if other.TokenSecret != "" {
		c.TokenSecret = other.TokenSecret
	}
	if other.TokenIssuer != "" {
		c.TokenIssuer = other.TokenIssuer
	}
	if other.TokenTTL != 0 {
		c.TokenTTL = other.TokenTTL
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
