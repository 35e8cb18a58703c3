package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by providers that do not hold the requested secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from a backend.
type Provider interface {
	// GetSecret retrieves a secret by name. It wraps ErrNotFound when the
	// backend has no such secret.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name returns the provider name (env, file, ssm).
	Name() string
}

// Watcher is implemented by providers that can signal secret changes.
type Watcher interface {
	// OnChange registers fn to be called after the backend changed.
	OnChange(fn func())
}
