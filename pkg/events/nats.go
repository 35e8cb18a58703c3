package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/relay/pkg/telemetry/tracing"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL           string
	Token         string
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSPublisher publishes events as JSON messages on core NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS. An unreachable server is not an
// error: the connection keeps retrying in the background and messages are
// buffered until it succeeds.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.SubjectPrefix == "" {
		return nil, errors.New("events: subject prefix is required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Debug("nats connection closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("event publisher started", "url", cfg.URL, "subject_prefix", cfg.SubjectPrefix)
	return &NATSPublisher{conn: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish implements Publisher. The message carries the event id as
// Nats-Msg-Id and the trace context from ctx.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(e.Subject(p.prefix))
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, e.ID)

	carrier := map[string]string{}
	tracing.InjectToMap(ctx, carrier)
	for k, v := range carrier {
		msg.Header.Set(k, v)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Check reports an error unless the connection is established. It backs
// the readiness probe.
func (p *NATSPublisher) Check(context.Context) error {
	if status := p.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	return nil
}

// Close flushes buffered messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	if p.conn.IsConnected() {
		if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
			slog.Warn("nats flush failed", "error", err)
		}
	}
	p.conn.Close()
	return nil
}
