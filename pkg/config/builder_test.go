package config

import "time"

// ConfigBuilder provides a fluent API for building test configurations.
type ConfigBuilder struct {
	cfg *Config
}

// NewTestConfig creates a builder holding a valid, defaulted configuration.
func NewTestConfig() *ConfigBuilder {
	cfg := &Config{
		Upstream: UpstreamConfig{URL: "https://upstream.example.com/v1/stream"},
	}
	ApplyDefaults(cfg)
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the configured Config.
func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

func (b *ConfigBuilder) WithTLS(certFile, keyFile, minVersion string) *ConfigBuilder {
	b.cfg.Server.TLS = TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: minVersion}
	return b
}

func (b *ConfigBuilder) WithUpstreamURL(u string) *ConfigBuilder {
	b.cfg.Upstream.URL = u
	return b
}

func (b *ConfigBuilder) WithThreadField(field string) *ConfigBuilder {
	b.cfg.Upstream.ThreadField = field
	return b
}

func (b *ConfigBuilder) WithRetry(attempts int, initial, max time.Duration) *ConfigBuilder {
	b.cfg.Upstream.Retry.MaxAttempts = attempts
	b.cfg.Upstream.Retry.InitialBackoff = initial
	b.cfg.Upstream.Retry.MaxBackoff = max
	return b
}

func (b *ConfigBuilder) WithThreadsBackend(backend string) *ConfigBuilder {
	b.cfg.Threads.Backend = backend
	return b
}

func (b *ConfigBuilder) WithSecretProvider(p SecretProviderConfig) *ConfigBuilder {
	b.cfg.Secrets.Providers = append(b.cfg.Secrets.Providers, p)
	return b
}

func (b *ConfigBuilder) WithEvents(enabled bool, url string) *ConfigBuilder {
	b.cfg.Events.Enabled = enabled
	b.cfg.Events.URL = url
	return b
}

func (b *ConfigBuilder) WithLoggingLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

func (b *ConfigBuilder) WithTracing(enabled bool, exporter string) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = enabled
	b.cfg.Telemetry.Tracing.Exporter = exporter
	return b
}
