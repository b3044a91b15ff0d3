// Package config provides centralized configuration management for the editor.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	CSV      CSVConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Audit    AuditConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// SessionConfig holds limits for in-memory editing sessions.
type SessionConfig struct {
	// MaxFileSize is the largest file accepted for editing, in bytes (default: 10MB)
	MaxFileSize int64 `env:"SESSION_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrentLoads caps files being decoded and parsed at once (default: 4)
	MaxConcurrentLoads int `env:"SESSION_MAX_CONCURRENT_LOADS" default:"4"`

	// LoadWaitTime is how long a load waits for a free slot (default: 10s)
	LoadWaitTime time.Duration `env:"SESSION_LOAD_WAIT_TIME" default:"10s"`

	// MaxSessions caps live sessions held in memory (default: 100)
	MaxSessions int `env:"SESSION_MAX_SESSIONS" default:"100"`

	// IdleTTL discards sessions untouched for this long (default: 2h)
	IdleTTL time.Duration `env:"SESSION_IDLE_TTL" default:"2h"`

	// SweepInterval is how often idle sessions are looked for (default: 5m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"5m"`

	// EventBuffer is the per-subscriber event channel size (default: 32)
	EventBuffer int `env:"SESSION_EVENT_BUFFER" default:"32"`
}

// CSVConfig holds the dialect used for parsing and export.
type CSVConfig struct {
	// Delimiter is the single-character field separator (default: ",")
	Delimiter string `env:"CSV_DELIMITER" default:","`

	// LineEnding is "lf" or "crlf" for exported files (default: lf)
	LineEnding string `env:"CSV_LINE_ENDING" default:"lf"`

	// QuoteSpaces quotes exported fields with leading/trailing whitespace (default: false)
	QuoteSpaces bool `env:"CSV_QUOTE_SPACES" default:"false"`

	// ExportFileName is the download name for exported tables (default: edited_data.csv)
	ExportFileName string `env:"CSV_EXPORT_FILE_NAME" default:"edited_data.csv"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// LoadLimit is requests per minute for file loads (default: 10)
	LoadLimit int `env:"RATE_LIMIT_LOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// AuditConfig holds edit audit log settings.
// Entries go to PostgreSQL when DatabaseURL is set, otherwise to memory.
type AuditConfig struct {
	// DatabaseURL is the PostgreSQL connection string (optional)
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of pooled connections (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MemoryCapacity is how many entries the in-memory log keeps (default: 1000)
	MemoryCapacity int `env:"AUDIT_MEMORY_CAPACITY" default:"1000"`
}

// Persistent reports whether audit entries should be written to PostgreSQL.
func (a *AuditConfig) Persistent() bool {
	return a.DatabaseURL != ""
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
