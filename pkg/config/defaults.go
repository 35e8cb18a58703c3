package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(1048576)

	// CORS defaults
	DefaultCORSMaxAge = 3600

	// TLS defaults
	DefaultTLSMinVersion = "1.2"

	// Upstream defaults
	DefaultAPIKeyHeader           = "X-API-Key"
	DefaultAPIKeySecret           = "api-key"
	DefaultThreadField            = "threadId"
	DefaultUpstreamConnectTimeout = 10 * time.Second
	DefaultUpstreamReadTimeout    = 30 * time.Second
	DefaultUpstreamWriteTimeout   = 10 * time.Second
	DefaultUpstreamIdleTimeout    = 30 * time.Second
	DefaultMaxLineBytes           = 1 << 20
	DefaultRetryMaxAttempts       = 3
	DefaultRetryInitialBackoff    = 500 * time.Millisecond
	DefaultRetryMaxBackoff        = 5 * time.Second
	DefaultRetryBackoffFactor     = 2.0

	// Threads defaults
	DefaultThreadsBackend       = "memory"
	DefaultSQLitePath           = "data/threads.db"
	DefaultSQLiteDriver         = "sqlite"
	DefaultSQLiteBusyTimeout    = 5 * time.Second
	DefaultThreadsStatsSchedule = "* * * * *"

	// Secrets defaults
	DefaultSecretsCacheTTL = 5 * time.Minute

	// Events defaults
	DefaultEventsURL            = "nats://127.0.0.1:4222"
	DefaultEventsSubjectPrefix  = "relay"
	DefaultEventsConnectionName = "chat-relay"
	DefaultEventsMaxReconnects  = 60
	DefaultEventsReconnectWait  = 2 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLoggingService     = "chat-relay"
	DefaultLoggingEnvironment = "production"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "relay"
	DefaultTracingExporter    = "otlp"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "chat-relay"
	DefaultTracingTimeout     = 10 * time.Second
)

// Default slice values cannot be constants.
var (
	DefaultCORSAllowedOrigins = []string{"*"}
	DefaultCORSAllowedMethods = []string{"POST", "OPTIONS"}
	DefaultCORSAllowedHeaders = []string{"Content-Type", "X-Request-ID", "X-Session-Token"}
	DefaultCORSExposedHeaders = []string{"X-Request-ID", "X-Thread-Id", "X-Vercel-AI-Data-Stream"}
)

// ApplyDefaults fills zero-valued fields with their defaults. Fields that
// were set explicitly are left alone.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyUpstreamDefaults(&cfg.Upstream)
	applyThreadsDefaults(&cfg.Threads)
	applySecretsDefaults(&cfg.Secrets)
	applyEventsDefaults(&cfg.Events)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = DefaultCORSAllowedOrigins
	}
	if len(cfg.CORS.AllowedMethods) == 0 {
		cfg.CORS.AllowedMethods = DefaultCORSAllowedMethods
	}
	if len(cfg.CORS.AllowedHeaders) == 0 {
		cfg.CORS.AllowedHeaders = DefaultCORSAllowedHeaders
	}
	if len(cfg.CORS.ExposedHeaders) == 0 {
		cfg.CORS.ExposedHeaders = DefaultCORSExposedHeaders
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = DefaultCORSMaxAge
	}
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.APIKeySecret == "" {
		cfg.APIKeySecret = DefaultAPIKeySecret
	}
	if cfg.ThreadField == "" {
		cfg.ThreadField = DefaultThreadField
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultUpstreamConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultUpstreamReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultUpstreamWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultUpstreamIdleTimeout
	}
	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = DefaultRetryInitialBackoff
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = DefaultRetryMaxBackoff
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = DefaultRetryBackoffFactor
	}
}

func applyThreadsDefaults(cfg *ThreadsConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultThreadsBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.StatsSchedule == "" {
		cfg.StatsSchedule = DefaultThreadsStatsSchedule
	}
}

func applySecretsDefaults(cfg *SecretsConfig) {
	if len(cfg.Providers) == 0 {
		cfg.Providers = []SecretProviderConfig{{Type: "env"}}
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultSecretsCacheTTL
	}
}

func applyEventsDefaults(cfg *EventsConfig) {
	if cfg.URL == "" {
		cfg.URL = DefaultEventsURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultEventsSubjectPrefix
	}
	if cfg.ConnectionName == "" {
		cfg.ConnectionName = DefaultEventsConnectionName
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultEventsMaxReconnects
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = DefaultEventsReconnectWait
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = DefaultLoggingService
	}
	if cfg.Logging.Environment == "" {
		cfg.Logging.Environment = DefaultLoggingEnvironment
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = DefaultTracingExporter
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
}
