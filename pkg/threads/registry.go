// Package threads maps conversation session keys to stable thread ids.
//
// A Registry is constructed explicitly with a Store. The in-memory store
// never evicts entries, so its size grows with the number of distinct
// conversations seen by the process. The SQL and DynamoDB stores share
// mappings across replicas.
package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrEmptyKey is returned when Resolve is called without a key.
var ErrEmptyKey = errors.New("threads: empty session key")

// Recorder receives registry metrics.
type Recorder interface {
	RecordThreadResolved(created bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordThreadResolved(bool) {}

// Option configures a Registry.
type Option func(*Registry)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(reg *Registry) { reg.recorder = r }
}

// WithIDGenerator replaces uuid generation. Used by tests.
func WithIDGenerator(gen func() ThreadID) Option {
	return func(reg *Registry) { reg.newID = gen }
}

// Registry resolves session keys to thread ids.
type Registry struct {
	store    Store
	recorder Recorder
	newID    func() ThreadID
}

// New returns a Registry backed by store. A nil store selects a MemoryStore.
func New(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		store:    store,
		recorder: nopRecorder{},
		newID:    func() ThreadID { return ThreadID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the thread id for key, creating one if the key is new.
// The returned bool reports whether this call created the mapping. Two
// concurrent calls for the same new key return the same id.
func (r *Registry) Resolve(ctx context.Context, key SessionKey) (ThreadID, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	id, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("threads: lookup %s: %w", key, err)
	}
	if ok {
		r.recorder.RecordThreadResolved(false)
		return id, false, nil
	}

	id, created, err := r.store.PutIfAbsent(ctx, key, r.newID())
	if err != nil {
		return "", false, fmt.Errorf("threads: insert %s: %w", key, err)
	}
	r.recorder.RecordThreadResolved(created)
	if created {
		slog.DebugContext(ctx, "thread created", "session_key", string(key), "thread_id", string(id))
	}
	return id, created, nil
}

// Bind records a thread id chosen elsewhere for key. An existing mapping
// wins; the returned id is the one stored for key after the call and the
// bool reports whether id was stored.
func (r *Registry) Bind(ctx context.Context, key SessionKey, id ThreadID) (ThreadID, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	stored, bound, err := r.store.PutIfAbsent(ctx, key, id)
	if err != nil {
		return "", false, fmt.Errorf("threads: bind %s: %w", key, err)
	}
	if !bound && stored != id {
		slog.DebugContext(ctx, "session key already bound to another thread",
			"session_key", string(key),
			"thread_id", string(stored),
			"supplied_thread_id", string(id),
		)
	}
	return stored, bound, nil
}

// Count returns the number of known session keys.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.store.Count(ctx)
}

// Ping reports whether the store is reachable. Readiness checks use it
// instead of Count.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
