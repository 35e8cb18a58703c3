// Package events publishes relay lifecycle events (stream started,
// completed, failed) to NATS for downstream consumers such as usage
// accounting. Publishing never blocks or fails a relayed stream.
package events

import "context"

// Publisher delivers events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events. It is used when events are disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
