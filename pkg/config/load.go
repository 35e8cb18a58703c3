package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables understood by existing deployments. They are honored
// alongside the RELAY_* overrides.
const (
	EnvAPIURL = "API_URL"
	EnvAPIKey = "API_KEY"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values and validates the result. Environment variables
// are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Variables follow the convention
// RELAY_SECTION_FIELD (e.g. RELAY_SERVER_LISTEN_ADDRESS); API_URL sets the
// upstream URL.
//
// A missing file is not an error when both API_URL and API_KEY are set, so
// the relay can run from the environment alone.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply environment variable overrides
// 3. Apply default values
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || !envOnly() {
			return nil, err
		}
		slog.Debug("configuration file not found, using environment", "path", path)
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return &cfg, nil
}

func envOnly() bool {
	return os.Getenv(EnvAPIURL) != "" && os.Getenv(EnvAPIKey) != ""
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvAPIURL); val != "" {
		cfg.Upstream.URL = val
	}

	// Server overrides
	setString(&cfg.Server.ListenAddress, "RELAY_SERVER_LISTEN_ADDRESS")
	setDuration(&cfg.Server.ReadTimeout, "RELAY_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "RELAY_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "RELAY_SERVER_IDLE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "RELAY_SERVER_SHUTDOWN_TIMEOUT")
	setBool(&cfg.Server.CORS.Enabled, "RELAY_SERVER_CORS_ENABLED")

	// Upstream overrides
	setString(&cfg.Upstream.URL, "RELAY_UPSTREAM_URL")
	setString(&cfg.Upstream.APIKeyHeader, "RELAY_UPSTREAM_API_KEY_HEADER")
	setString(&cfg.Upstream.APIKeySecret, "RELAY_UPSTREAM_API_KEY_SECRET")
	setString(&cfg.Upstream.ThreadField, "RELAY_UPSTREAM_THREAD_FIELD")
	setDuration(&cfg.Upstream.ConnectTimeout, "RELAY_UPSTREAM_CONNECT_TIMEOUT")
	setDuration(&cfg.Upstream.ReadTimeout, "RELAY_UPSTREAM_READ_TIMEOUT")
	setDuration(&cfg.Upstream.WriteTimeout, "RELAY_UPSTREAM_WRITE_TIMEOUT")
	setDuration(&cfg.Upstream.IdleTimeout, "RELAY_UPSTREAM_IDLE_TIMEOUT")
	setInt(&cfg.Upstream.Retry.MaxAttempts, "RELAY_UPSTREAM_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Upstream.Retry.InitialBackoff, "RELAY_UPSTREAM_RETRY_INITIAL_BACKOFF")
	setDuration(&cfg.Upstream.Retry.MaxBackoff, "RELAY_UPSTREAM_RETRY_MAX_BACKOFF")

	// Threads overrides
	setString(&cfg.Threads.Backend, "RELAY_THREADS_BACKEND")
	setString(&cfg.Threads.SQLite.Path, "RELAY_THREADS_SQLITE_PATH")
	setString(&cfg.Threads.SQLite.Driver, "RELAY_THREADS_SQLITE_DRIVER")
	setString(&cfg.Threads.Postgres.DSN, "RELAY_THREADS_POSTGRES_DSN")
	setString(&cfg.Threads.DynamoDB.Table, "RELAY_THREADS_DYNAMODB_TABLE")
	setString(&cfg.Threads.DynamoDB.Region, "RELAY_THREADS_DYNAMODB_REGION")
	setString(&cfg.Threads.DynamoDB.Endpoint, "RELAY_THREADS_DYNAMODB_ENDPOINT")
	setString(&cfg.Threads.StatsSchedule, "RELAY_THREADS_STATS_SCHEDULE")

	// Events overrides
	setBool(&cfg.Events.Enabled, "RELAY_EVENTS_ENABLED")
	setString(&cfg.Events.URL, "RELAY_EVENTS_URL")
	setString(&cfg.Events.SubjectPrefix, "RELAY_EVENTS_SUBJECT_PREFIX")
	setString(&cfg.Events.TokenSecret, "RELAY_EVENTS_TOKEN_SECRET")

	// Telemetry overrides
	setString(&cfg.Telemetry.Logging.Level, "RELAY_TELEMETRY_LOGGING_LEVEL")
	setString(&cfg.Telemetry.Logging.Format, "RELAY_TELEMETRY_LOGGING_FORMAT")
	setString(&cfg.Telemetry.Logging.Environment, "RELAY_TELEMETRY_LOGGING_ENVIRONMENT")
	setBool(&cfg.Telemetry.Metrics.Enabled, "RELAY_TELEMETRY_METRICS_ENABLED")
	setString(&cfg.Telemetry.Metrics.Path, "RELAY_TELEMETRY_METRICS_PATH")
	setBool(&cfg.Telemetry.Tracing.Enabled, "RELAY_TELEMETRY_TRACING_ENABLED")
	setString(&cfg.Telemetry.Tracing.Exporter, "RELAY_TELEMETRY_TRACING_EXPORTER")
	setString(&cfg.Telemetry.Tracing.Endpoint, "RELAY_TELEMETRY_TRACING_ENDPOINT")
	if val := os.Getenv("RELAY_TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
