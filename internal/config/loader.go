package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/geoimport/internal/csvfile"
)

// DefaultEnvFiles are loaded, when present, before the environment is read.
// Variables already set in the process environment win.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Load reads .env files and environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	if _, err := LoadEnvFiles(DefaultEnvFiles); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return load(env.Options{})
}

// LoadEnvFiles loads the files that exist and returns how many were read.
func LoadEnvFiles(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// LoadFrom parses configuration from the given variables only. It ignores
// the process environment and .env files.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if cfg.Database.URL == "" {
		if opts.Environment != nil {
			cfg.Database.URL = opts.Environment["DB_URL"]
		} else {
			cfg.Database.URL = os.Getenv("DB_URL")
		}
	}
	cfg.Security.TrustedProxies = trimAll(cfg.Security.TrustedProxies)
	cfg.Security.APIKeys = trimAll(cfg.Security.APIKeys)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// APIKeyLogins maps each configured key to its login.
func (c *SecurityConfig) APIKeyLogins() map[string]string {
	logins := make(map[string]string, len(c.APIKeys))
	for _, pair := range c.APIKeys {
		login, key, ok := strings.Cut(pair, ":")
		if !ok || login == "" || key == "" {
			continue
		}
		logins[key] = login
	}
	return logins
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	imp := c.Import
	if imp.UploadDir == "" {
		errs = append(errs, "IMPORT_UPLOAD_DIR is required")
	}
	if imp.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if imp.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if imp.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if imp.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}
	if imp.LoadBatchSize <= 0 {
		errs = append(errs, "IMPORT_LOAD_BATCH_SIZE must be positive")
	}
	if _, err := csvfile.ParseSeparator(imp.DefaultSeparator); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_SEPARATOR: %v", err))
	}
	if imp.EngineSchema == "" {
		errs = append(errs, "IMPORT_ENGINE_SCHEMA is required")
	}
	switch imp.ConfigSource {
	case SourceDatabase:
	case SourceFile:
		if imp.DestinationsFile == "" {
			errs = append(errs, "IMPORT_DESTINATIONS_FILE is required when IMPORT_CONFIG_SOURCE is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("IMPORT_CONFIG_SOURCE (%q) must be one of: database, file", imp.ConfigSource))
	}
	if imp.StagingMaxAge <= imp.Timeout {
		errs = append(errs, fmt.Sprintf("IMPORT_STAGING_MAX_AGE (%s) must exceed IMPORT_TIMEOUT (%s)",
			imp.StagingMaxAge, imp.Timeout))
	}
	if imp.SweepInterval < 0 {
		errs = append(errs, "IMPORT_SWEEP_INTERVAL must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && (c.Rate.RequestsPerMinute <= 0 || c.Rate.ImportLimit <= 0) {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE and RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeyLogins()) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS has no login:key pair")
	}
	for _, pair := range c.Security.APIKeys {
		if login, key, ok := strings.Cut(pair, ":"); !ok || login == "" || key == "" {
			errs = append(errs, "API_KEYS entries must have the form login:key")
			break
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "METRICS_PATH must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// LogValue masks secrets when the config is logged with slog.
func (c *Config) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// String returns a safe string representation of the config for logging.
// The database URL and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {MaxConcurrent: %d, Timeout: %s, ConfigSource: %q, EngineSchema: %q}, ",
		c.Import.MaxConcurrent, c.Import.Timeout, c.Import.ConfigSource, c.Import.EngineSchema)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d [MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
