// Package config loads the server settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Draw    DrawConfig
	Session SessionConfig
	Upload  UploadConfig
	Events  EventsConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `env:"SERVER_PORT" default:"8080"`

	// BaseURL prefixes the share links encoded in QR codes.
	BaseURL string `env:"BASE_URL" default:"http://localhost:8080"`

	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// StoreConfig selects where the raffle history is kept.
type StoreConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string `env:"STORE_DSN" envAlt:"DATABASE_URL" default:"raffle.db"`
}

// DrawConfig holds draw defaults.
type DrawConfig struct {
	RevealDelay  time.Duration `env:"DRAW_REVEAL_DELAY" default:"3s"`
	DefaultTitle string        `env:"DRAW_DEFAULT_TITLE" default:"Raffle"`
	Locale       string        `env:"LOCALE" default:"en"`
}

// SessionConfig controls how long idle browser sessions are kept.
type SessionConfig struct {
	IdleTimeout     time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"1h"`
	JanitorInterval time.Duration `env:"SESSION_JANITOR_INTERVAL" default:"10m"`
}

// UploadConfig holds file upload limits.
type UploadConfig struct {
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"5242880"`
}

// EventsConfig holds the message bus connection. An empty URL disables it.
type EventsConfig struct {
	NATSURL string `env:"NATS_URL"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Verbose bool `env:"LOG_VERBOSE" default:"false"`
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("BASE_URL (%q) must start with http:// or https://", c.Server.BaseURL))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be one of: memory, sqlite, postgres", c.Store.Driver))
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		errs = append(errs, "STORE_DSN is required unless STORE_DRIVER is memory")
	}

	if c.Draw.RevealDelay < 0 {
		errs = append(errs, "DRAW_REVEAL_DELAY must be non-negative")
	}
	if strings.TrimSpace(c.Draw.DefaultTitle) == "" {
		errs = append(errs, "DRAW_DEFAULT_TITLE must not be blank")
	}
	validLocales := map[string]bool{"en": true, "es": true}
	if !validLocales[strings.ToLower(c.Draw.Locale)] {
		errs = append(errs, fmt.Sprintf("LOCALE (%q) must be one of: en, es", c.Draw.Locale))
	}

	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, "SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.Session.JanitorInterval <= 0 {
		errs = append(errs, "SESSION_JANITOR_INTERVAL must be positive")
	}

	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}

	if c.Events.NATSURL != "" && !strings.HasPrefix(c.Events.NATSURL, "nats://") && !strings.HasPrefix(c.Events.NATSURL, "tls://") {
		errs = append(errs, fmt.Sprintf("NATS_URL (%q) must start with nats:// or tls://", c.Events.NATSURL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The store DSN is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Port: %d, BaseURL: %q}, ", c.Server.Port, c.Server.BaseURL)
	fmt.Fprintf(&b, "Store: {Driver: %q, DSN: [MASKED]}, ", c.Store.Driver)
	fmt.Fprintf(&b, "Draw: {RevealDelay: %s, Locale: %q}, ", c.Draw.RevealDelay, c.Draw.Locale)
	fmt.Fprintf(&b, "Session: {IdleTimeout: %s, JanitorInterval: %s}, ", c.Session.IdleTimeout, c.Session.JanitorInterval)
	fmt.Fprintf(&b, "Upload: {MaxFileSize: %d}, ", c.Upload.MaxFileSize)
	fmt.Fprintf(&b, "Events: {NATS: %v}", c.Events.NATSURL != "")
	b.WriteString("}")
	return b.String()
}
