package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/proxy/handlers"
	"mercator-hq/relay/pkg/relay"
	"mercator-hq/relay/pkg/security/secrets"
	relaytls "mercator-hq/relay/pkg/security/tls"
	"mercator-hq/relay/pkg/server"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/threads"
	"mercator-hq/relay/pkg/upstream"
)

const (
	healthCheckTimeout = 2 * time.Second
	cleanupTimeout     = 10 * time.Second
)

// app holds the wired components of a running relay.
type app struct {
	server   *server.Server
	registry *threads.Registry
	closers  []func(context.Context) error
}

// newApp builds every component from cfg. On error, components created so
// far are closed.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.onClose(tracer.Shutdown)

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())

	keys, err := newSecretManager(ctx, &cfg.Secrets, a)
	if err != nil {
		return nil, err
	}

	transport, err := upstream.NewTransport(transportConfig(&cfg.Upstream),
		upstream.WithKeySource(upstream.KeySourceFunc(keys.Source(cfg.Upstream.APIKeySecret))),
		upstream.WithRecorder(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream transport: %w", err)
	}
	a.onClose(func(context.Context) error {
		transport.Close()
		return nil
	})

	store, err := openStore(ctx, &cfg.Threads)
	if err != nil {
		return nil, err
	}
	a.registry = threads.New(store, threads.WithRecorder(collector))
	a.onClose(func(context.Context) error { return a.registry.Close() })

	stats := threads.NewStatsJob(a.registry, collector, cfg.Threads.StatsSchedule)
	if err := stats.Start(ctx); err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error {
		stats.Stop()
		return nil
	})

	checker := health.New(healthCheckTimeout, Version)
	checker.Register("threads", a.registry.Ping)

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		natsCfg, err := eventsConfig(ctx, &cfg.Events, keys)
		if err != nil {
			return nil, err
		}
		pub, err := events.NewNATSPublisher(natsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		checker.Register("events", pub.Check)
		publisher = pub
	}

	rel := relay.New(relay.Config{
		ThreadField:  cfg.Upstream.ThreadField,
		MaxLineBytes: cfg.Upstream.MaxLineBytes,
	}, relay.Deps{
		Transport: transport,
		Registry:  a.registry,
		Publisher: publisher,
		Metrics:   collector,
		Tracer:    tracer,
	})

	routes := server.Routes{
		Chat:   handlers.NewChatHandler(rel, cfg.Server.MaxBodyBytes),
		Health: checker,
	}
	if cfg.Telemetry.Metrics.Enabled {
		routes.Metrics = collector.Handler()
		routes.MetricsPath = cfg.Telemetry.Metrics.Path
	}

	var opts []server.Option
	if cfg.Server.TLS.Enabled {
		tlsConfig, err := newTLSConfig(&cfg.Server.TLS, a)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithTLSConfig(tlsConfig))
	}
	a.server = server.New(&cfg.Server, routes, opts...)
	return a, nil
}

func newTLSConfig(cfg *config.TLSConfig, a *app) (*tls.Config, error) {
	certs, err := relaytls.NewCertReloader(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return certs.Close() })
	if cfg.Watch {
		if err := certs.Watch(); err != nil {
			return nil, err
		}
	}
	return relaytls.ServerConfig(cfg, certs)
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse creation order.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}
	a.closers = nil
}

func transportConfig(cfg *config.UpstreamConfig) upstream.TransportConfig {
	return upstream.TransportConfig{
		URL:            cfg.URL,
		APIKeyHeader:   cfg.APIKeyHeader,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		BackoffFactor:  cfg.Retry.BackoffFactor,
	}
}

// eventsConfig maps cfg onto the publisher config, reading the auth token
// through keys once at startup.
func eventsConfig(ctx context.Context, cfg *config.EventsConfig, keys *secrets.Manager) (events.NATSConfig, error) {
	natsCfg := events.NATSConfig{
		URL:           cfg.URL,
		Name:          cfg.ConnectionName,
		SubjectPrefix: cfg.SubjectPrefix,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
	}
	if cfg.TokenSecret == "" {
		return natsCfg, nil
	}
	token, err := keys.GetSecret(ctx, cfg.TokenSecret)
	if err != nil {
		return events.NATSConfig{}, fmt.Errorf("failed to read events token: %w", err)
	}
	natsCfg.Token = token
	return natsCfg, nil
}

// newSecretManager builds the provider chain. Providers holding resources
// are released through a.
func newSecretManager(ctx context.Context, cfg *config.SecretsConfig, a *app) (*secrets.Manager, error) {
	providers := make([]secrets.Provider, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		switch pc.Type {
		case "env":
			providers = append(providers, secrets.NewEnvProvider(pc.Prefix))
		case "file":
			p, err := secrets.NewFileProvider(pc.Path, pc.Watch)
			if err != nil {
				return nil, fmt.Errorf("secrets.providers[%d]: %w", i, err)
			}
			a.onClose(func(context.Context) error { return p.Close() })
			providers = append(providers, p)
		case "ssm":
			awsCfg, err := loadAWSConfig(ctx, pc.Region)
			if err != nil {
				return nil, fmt.Errorf("secrets.providers[%d]: %w", i, err)
			}
			p, err := secrets.NewSSMProvider(ssm.NewFromConfig(awsCfg), pc.Prefix)
			if err != nil {
				return nil, fmt.Errorf("secrets.providers[%d]: %w", i, err)
			}
			providers = append(providers, p)
		default:
			return nil, fmt.Errorf("secrets.providers[%d]: unsupported type %q", i, pc.Type)
		}
	}
	return secrets.NewManager(providers, cfg.CacheTTL), nil
}

// openStore opens the configured thread store backend.
func openStore(ctx context.Context, cfg *config.ThreadsConfig) (threads.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return threads.NewMemoryStore(), nil
	case "sqlite":
		store, err := threads.NewSQLiteStore(threads.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			Driver:      cfg.SQLite.Driver,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite thread store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := threads.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres thread store: %w", err)
		}
		return store, nil
	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
			}
		})
		store, err := threads.NewDynamoStore(client, cfg.DynamoDB.Table)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.New("unsupported threads backend: " + cfg.Backend)
	}
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
