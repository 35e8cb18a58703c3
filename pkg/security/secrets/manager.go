package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Manager resolves secrets through a provider chain with caching.
type Manager struct {
	providers []Provider
	cache     *Cache
}

// NewManager creates a manager trying providers in order. Providers that
// implement Watcher clear the manager's cache when they change.
func NewManager(providers []Provider, ttl time.Duration) *Manager {
	m := &Manager{
		providers: providers,
		cache:     NewCache(ttl),
	}
	for _, p := range providers {
		if w, ok := p.(Watcher); ok {
			w.OnChange(m.cache.Clear)
		}
	}
	return m
}

// GetSecret returns the first value found for name. Providers reporting
// ErrNotFound are skipped; any other provider error is returned.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		return value, nil
	}

	for _, p := range m.providers {
		value, err := p.GetSecret(ctx, name)
		if errors.Is(err, ErrNotFound) {
			slog.DebugContext(ctx, "secret not in provider", "provider", p.Name(), "name", redactSecretName(name))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to get secret %q from %s: %w", redactSecretName(name), p.Name(), err)
		}
		m.cache.Set(name, value)
		return value, nil
	}

	return "", fmt.Errorf("%w: %q (tried %d providers)", ErrNotFound, redactSecretName(name), len(m.providers))
}

// Source returns a function resolving name on every call.
func (m *Manager) Source(name string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return m.GetSecret(ctx, name)
	}
}

// Invalidate drops cached values.
func (m *Manager) Invalidate() {
	m.cache.Clear()
}

func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
