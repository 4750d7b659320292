// Package config loads the service configuration from environment variables
// (and optional .env files) and validates it on startup so misconfiguration
// fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout bounds reading a request including the upload (default: 5m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5m"`

	// WriteTimeout bounds writing the response (default: 0, sessions are bounded by IMPORT_TIMEOUT)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is how long running imports may take to finish on shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required). DB_URL is accepted as a fallback.
	URL string `env:"DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" envDefault:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" envDefault:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
}

// Destination configuration sources.
const (
	SourceDatabase = "database"
	SourceFile     = "file"
)

// ImportConfig holds import session settings.
type ImportConfig struct {
	// UploadDir is where uploaded files live while a session runs
	UploadDir string `env:"IMPORT_UPLOAD_DIR" envDefault:"./uploads"`

	// MaxFileSize is the maximum upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"104857600"`

	// MaxConcurrent is the maximum number of sessions running at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" envDefault:"4"`

	// MaxWaitTime is how long a session waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" envDefault:"30s"`

	// Timeout bounds one session (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" envDefault:"10m"`

	// LoadBatchSize is the number of staged rows sent per round trip (default: 1000)
	LoadBatchSize int `env:"IMPORT_LOAD_BATCH_SIZE" envDefault:"1000"`

	DefaultSeparator string `env:"IMPORT_DEFAULT_SEPARATOR" envDefault:","`
	Encoding         string `env:"IMPORT_ENCODING" envDefault:"utf-8"`

	// EngineSchema is the schema holding the rules engine functions and the
	// destination configuration table
	EngineSchema string `env:"IMPORT_ENGINE_SCHEMA" envDefault:"lizmap_import_module"`

	// ConfigSource selects where destinations are read: database or file
	ConfigSource     string `env:"IMPORT_CONFIG_SOURCE" envDefault:"database"`
	DestinationsFile string `env:"IMPORT_DESTINATIONS_FILE"`

	// StagingMaxAge is the age after which the janitor drops leftover staging
	// relations and uploads (default: 1h). It must exceed Timeout.
	StagingMaxAge time.Duration `env:"IMPORT_STAGING_MAX_AGE" envDefault:"1h"`

	// SweepInterval is how often the janitor runs; 0 disables it
	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" envDefault:"15m"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default limit per IP (default: 100)
	RequestsPerMinute int64 `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`

	// ImportLimit is the per-minute limit on the run endpoint (default: 10)
	ImportLimit int64 `env:"RATE_LIMIT_IMPORT" envDefault:"10"`
}

// SecurityConfig holds authentication and authorization settings.
type SecurityConfig struct {
	// RequireAPIKey rejects requests without a valid X-API-Key
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys is a comma-separated list of login:key pairs. The login becomes
	// the principal of sessions started with that key.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs allowed to set
	// X-Forwarded-For and X-Real-IP
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// PolicyPath is a casbin policy file; empty allows every request
	PolicyPath string `env:"AUTHZ_POLICY_PATH"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
