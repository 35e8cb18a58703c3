package config

import "time"

// Config is the root configuration structure for the chat relay.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts and CORS.
	Server ServerConfig `yaml:"server"`

	// Upstream describes the completions service the relay forwards to.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Threads selects the backend that remembers conversation thread ids.
	Threads ThreadsConfig `yaml:"threads"`

	// Secrets lists the providers consulted for the upstream API key.
	Secrets SecretsConfig `yaml:"secrets"`

	// Events configures publication of relay lifecycle events.
	Events EventsConfig `yaml:"events"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Streaming responses run for as
	// long as the upstream produces data, so the default is zero (none);
	// the upstream read timeout bounds a stalled stream instead.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the chat request body.
	// Default: 1MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS configures cross-origin access for browser clients.
	CORS CORSConfig `yaml:"cors"`

	// TLS serves HTTPS with a reloadable certificate.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// Watch reloads the certificate when the files change.
	Watch bool `yaml:"watch"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// UpstreamConfig describes the completions service.
type UpstreamConfig struct {
	// URL is the completions endpoint. Required. The API_URL environment
	// variable sets it as well.
	URL string `yaml:"url"`

	// APIKeyHeader names the header carrying the API key.
	// Default: "X-API-Key"
	APIKeyHeader string `yaml:"api_key_header"`

	// APIKeySecret is the secret name resolved through the secrets
	// providers on every connection attempt. With the env provider and no
	// prefix, "api-key" reads API_KEY.
	// Default: "api-key"
	APIKeySecret string `yaml:"api_key_secret"`

	// ThreadField is the JSON field carrying the thread id in the outbound
	// message ("threadId" or "thread_id").
	// Default: "threadId"
	ThreadField string `yaml:"thread_field"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	// MaxLineBytes caps a single upstream SSE line.
	// Default: 1MiB
	MaxLineBytes int `yaml:"max_line_bytes"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls connection retries. Only failures before the first
// response byte are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay after the first failure.
	// Default: 500ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay between attempts.
	// Default: 5s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffFactor multiplies the delay after each failure.
	// Default: 2.0
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// ThreadsConfig selects and configures the thread registry backend.
type ThreadsConfig struct {
	// Backend is one of "memory", "sqlite", "postgres" or "dynamodb".
	// Default: "memory"
	Backend string `yaml:"backend"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`

	// StatsSchedule is the cron expression for refreshing the known
	// threads gauge.
	// Default: "* * * * *"
	StatsSchedule string `yaml:"stats_schedule"`
}

// SQLiteConfig configures the SQLite thread store.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/threads.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PostgresConfig configures the PostgreSQL thread store.
type PostgresConfig struct {
	// DSN is a libpq connection string or URL.
	DSN string `yaml:"dsn"`
}

// DynamoDBConfig configures the DynamoDB thread store.
type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`

	// Endpoint overrides the service endpoint (local DynamoDB).
	Endpoint string `yaml:"endpoint"`
}

// SecretsConfig lists secret providers in lookup order.
type SecretsConfig struct {
	// Providers are consulted in order. Default: a single env provider.
	Providers []SecretProviderConfig `yaml:"providers"`

	// CacheTTL is how long resolved secrets are reused.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SecretProviderConfig configures one secret provider.
type SecretProviderConfig struct {
	// Type is "env", "file" or "ssm".
	Type string `yaml:"type"`

	// Prefix is prepended to secret names (env var prefix or SSM path).
	Prefix string `yaml:"prefix"`

	// Path is the directory for the file provider.
	Path string `yaml:"path"`

	// Watch reloads file secrets on change.
	Watch bool `yaml:"watch"`

	// Region is the AWS region for the ssm provider.
	Region string `yaml:"region"`
}

// EventsConfig configures lifecycle event publication.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the NATS server URL.
	// Default: "nats://127.0.0.1:4222"
	URL string `yaml:"url"`

	// SubjectPrefix is prepended to event types.
	// Default: "relay"
	SubjectPrefix string `yaml:"subject_prefix"`

	// ConnectionName identifies the relay to the NATS server.
	// Default: "chat-relay"
	ConnectionName string `yaml:"connection_name"`

	// TokenSecret names the secret holding the NATS auth token. Empty
	// connects without a token.
	TokenSecret string `yaml:"token_secret"`

	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`

	// Service is attached to every record.
	// Default: "chat-relay"
	Service string `yaml:"service"`

	// Environment is attached to every record.
	// Default: "production"
	Environment string `yaml:"environment"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the scrape endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Default: "relay"
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets are histogram buckets in seconds for stream and
	// upstream attempt durations.
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is "stdout" or "otlp".
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces sampled, 0 to 1.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the resource service name.
	// Default: "chat-relay"
	ServiceName string `yaml:"service_name"`

	// Timeout bounds exporter calls.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
