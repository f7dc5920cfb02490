// Package config provides centralized configuration management for stageload.
// Values come from environment variables (optionally seeded from a .env file),
// defaults are applied for anything unset, and the result is validated on
// startup so a misconfigured loader never touches the database.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Load     LoadConfig
	Settings SettingsConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing the response (default: 0, loads can run long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-load requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`

	// MaxUploadSize caps multipart bodies in bytes (default: 512MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"536870912"`
}

// DatabaseConfig holds destination store connection settings.
type DatabaseConfig struct {
	// Driver selects the destination store: mssql or postgres (default: mssql)
	Driver string `env:"DB_DRIVER" default:"mssql"`

	// URL is the connection string (required).
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of idle connections kept open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectTimeout bounds the startup ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// LoadConfig holds load engine settings.
type LoadConfig struct {
	// ChunkThreshold is the row count above which the chunked tier is used (default: 10000)
	ChunkThreshold int `env:"LOAD_CHUNK_THRESHOLD" default:"10000"`

	// ChunkSize is the number of rows per chunk in the chunked tier (default: 5000)
	ChunkSize int `env:"LOAD_CHUNK_SIZE" default:"5000"`

	// BulkCopy enables the bulk-copy tier (default: true)
	BulkCopy bool `env:"LOAD_BULK_COPY" default:"true"`

	// DefaultNamespace is the schema used when a request names none (default: bronze)
	DefaultNamespace string `env:"LOAD_DEFAULT_NAMESPACE" default:"bronze"`

	// DiagnosticColumns caps how many columns a failure scan reports (default: 5)
	DiagnosticColumns int `env:"LOAD_DIAGNOSTIC_COLUMNS" default:"5"`

	// DiagnosticExamples caps example values per reported column (default: 3)
	DiagnosticExamples int `env:"LOAD_DIAGNOSTIC_EXAMPLES" default:"3"`

	// StrictNumeric recreates tables whose DECIMAL precision or scale is narrower than declared
	StrictNumeric bool `env:"LOAD_STRICT_NUMERIC" default:"false"`

	// MaxConcurrent is the number of loads allowed in flight (default: 4)
	MaxConcurrent int `env:"LOAD_MAX_CONCURRENT" default:"4"`

	// AcquireTimeout is how long a load waits for a slot (default: 30s)
	AcquireTimeout time.Duration `env:"LOAD_ACQUIRE_TIMEOUT" default:"30s"`

	// Timeout bounds a single load call (default: 30m)
	Timeout time.Duration `env:"LOAD_TIMEOUT" default:"30m"`

	// HistorySize is the number of recent load results kept in memory (default: 100)
	HistorySize int `env:"LOAD_HISTORY_SIZE" default:"100"`
}

// SettingsConfig locates the column and dtype settings documents.
type SettingsConfig struct {
	// ColumnSettingsPath is the column mapping document (JSON or YAML)
	ColumnSettingsPath string `env:"COLUMN_SETTINGS_PATH" default:"config/column_settings.json"`

	// DtypeSettingsPath is the column type document (JSON or YAML)
	DtypeSettingsPath string `env:"DTYPE_SETTINGS_PATH" default:"config/dtype_settings.json"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// LoadLimit is requests per minute for load endpoints (default: 10)
	LoadLimit int `env:"RATE_LIMIT_LOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
