// Package config provides centralized configuration management for the anycsv
// commands. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CSV      CSVConfig
	Acquire  AcquireConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, no limit;
	// loads of large remote tables can stream for a long time)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for inspect requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings. The database is
// optional; without it the server only inspects tables.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// CSVConfig holds table acquisition and detection settings. They become the
// defaults for every table opened by the commands.
type CSVConfig struct {
	// SniffLines is the number of lines sampled for detection (default: 100)
	SniffLines int `env:"ANYCSV_SNIFF_LINES" default:"100"`

	// MaxSize is the size quota in bytes; -1 disables it (default: -1)
	MaxSize int64 `env:"ANYCSV_MAX_SIZE" default:"-1"`

	// Timeout bounds connecting to and reading from URLs (default: 10s)
	Timeout time.Duration `env:"ANYCSV_TIMEOUT" default:"10s"`

	// Encoding skips detection when set, e.g. "windows-1252"
	Encoding string `env:"ANYCSV_ENCODING"`

	// ErrorPolicy is strict or replace (default: strict)
	ErrorPolicy string `env:"ANYCSV_ERROR_POLICY" default:"strict"`

	// Delimiter forces the delimiter: a single character or one of the
	// names accepted by ParseDelimiter
	Delimiter string `env:"ANYCSV_DELIMITER"`

	// Delimiters are the detection candidates in priority order
	// (default: comma, tab, semicolon, pipe)
	Delimiters []string `env:"ANYCSV_DELIMITERS" default:"comma,tab,semicolon,pipe"`

	// CompressionRatio is the assumed compressed/original size ratio for
	// the pre-flight quota check on compressed files (default: 0.4)
	CompressionRatio float64 `env:"ANYCSV_COMPRESSION_RATIO" default:"0.4"`
}

// AcquireConfig holds limits for the server's table acquisitions.
type AcquireConfig struct {
	// MaxConcurrent is the maximum number of tables acquired in parallel (default: 5)
	MaxConcurrent int `env:"ACQUIRE_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an acquisition slot (default: 30s)
	MaxWaitTime time.Duration `env:"ACQUIRE_MAX_WAIT_TIME" default:"30s"`

	// MaxBodySize is the maximum request body for posted content in bytes (default: 100MB)
	MaxBodySize int64 `env:"ACQUIRE_MAX_BODY_SIZE" default:"104857600"`

	// PreviewRows is the number of rows returned by inspect (default: 20)
	PreviewRows int `env:"ACQUIRE_PREVIEW_ROWS" default:"20"`

	// LoadTimeout is the maximum duration of a single load into the database (default: 10m)
	LoadTimeout time.Duration `env:"ACQUIRE_LOAD_TIMEOUT" default:"10m"`

	// AllowLocalPaths lets requests name files on the server's disk (default: false)
	AllowLocalPaths bool `env:"ACQUIRE_ALLOW_LOCAL_PATHS" default:"false"`

	// AllowPrivateURLs lets requests fetch URLs on loopback, private and
	// link-local addresses (default: false)
	AllowPrivateURLs bool `env:"ACQUIRE_ALLOW_PRIVATE_URLS" default:"false"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
