package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "upstream.url").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration. All validation errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateThreads(&cfg.Threads)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must not be negative"})
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "field is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "field is required when TLS is enabled"})
		}
		switch cfg.TLS.MinVersion {
		case "1.2", "1.3":
		default:
			errs = append(errs, FieldError{
				Field:   "server.tls.min_version",
				Message: fmt.Sprintf("must be \"1.2\" or \"1.3\", got %q", cfg.TLS.MinVersion),
			})
		}
	}
	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.URL == "" {
		errs = append(errs, FieldError{Field: "upstream.url", Message: "field is required (or set API_URL)"})
	} else if u, err := url.Parse(cfg.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, FieldError{
			Field:   "upstream.url",
			Message: fmt.Sprintf("must be an absolute http or https URL, got %q", cfg.URL),
		})
	}

	switch cfg.ThreadField {
	case "threadId", "thread_id":
	default:
		errs = append(errs, FieldError{
			Field:   "upstream.thread_field",
			Message: fmt.Sprintf("must be \"threadId\" or \"thread_id\", got %q", cfg.ThreadField),
		})
	}

	timeouts := []struct {
		field string
		d     time.Duration
	}{
		{"upstream.connect_timeout", cfg.ConnectTimeout},
		{"upstream.read_timeout", cfg.ReadTimeout},
		{"upstream.write_timeout", cfg.WriteTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			errs = append(errs, FieldError{Field: t.field, Message: "must be positive"})
		}
	}

	if cfg.MaxLineBytes < 1024 {
		errs = append(errs, FieldError{Field: "upstream.max_line_bytes", Message: "must be at least 1024"})
	}
	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "upstream.retry.max_attempts", Message: "must be at least 1"})
	}
	if cfg.Retry.BackoffFactor < 1 {
		errs = append(errs, FieldError{Field: "upstream.retry.backoff_factor", Message: "must be at least 1"})
	}
	if cfg.Retry.InitialBackoff < 0 || cfg.Retry.MaxBackoff < cfg.Retry.InitialBackoff {
		errs = append(errs, FieldError{
			Field:   "upstream.retry.max_backoff",
			Message: "must be greater than or equal to initial_backoff",
		})
	}
	return errs
}

func validateThreads(cfg *ThreadsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "threads.sqlite.path", Message: "field is required"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "threads.sqlite.driver",
				Message: fmt.Sprintf("must be \"sqlite\" or \"sqlite3\", got %q", cfg.SQLite.Driver),
			})
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{Field: "threads.postgres.dsn", Message: "field is required"})
		}
	case "dynamodb":
		if cfg.DynamoDB.Table == "" {
			errs = append(errs, FieldError{Field: "threads.dynamodb.table", Message: "field is required"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "threads.backend",
			Message: fmt.Sprintf("unknown backend %q (expected memory, sqlite, postgres or dynamodb)", cfg.Backend),
		})
	}

	if _, err := cron.ParseStandard(cfg.StatsSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "threads.stats_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}
	return errs
}

func validateSecrets(cfg *SecretsConfig) []FieldError {
	var errs []FieldError

	for i, p := range cfg.Providers {
		field := fmt.Sprintf("secrets.providers[%d]", i)
		switch p.Type {
		case "env", "ssm":
		case "file":
			if p.Path == "" {
				errs = append(errs, FieldError{Field: field + ".path", Message: "field is required for file provider"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown provider type %q (expected env, file or ssm)", p.Type),
			})
		}
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, FieldError{Field: "secrets.cache_ttl", Message: "must not be negative"})
	}
	return errs
}

func validateEvents(cfg *EventsConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError
	if u, err := url.Parse(cfg.URL); err != nil || u.Scheme == "" {
		errs = append(errs, FieldError{
			Field:   "events.url",
			Message: fmt.Sprintf("invalid NATS URL %q", cfg.URL),
		})
	}
	if cfg.SubjectPrefix == "" || strings.ContainsAny(cfg.SubjectPrefix, " *>") {
		errs = append(errs, FieldError{
			Field:   "events.subject_prefix",
			Message: "must be a non-empty subject without spaces or wildcards",
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid level %q", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("must be \"json\" or \"text\", got %q", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.exporter",
				Message: fmt.Sprintf("must be \"stdout\" or \"otlp\", got %q", cfg.Tracing.Exporter),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
		}
	}
	return errs
}
