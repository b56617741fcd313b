// Package secrets loads token signing keys and other credentials from
// pluggable sources.
package secrets

import "context"

// SecretProvider retrieves secrets from one backend.
type SecretProvider interface {
	// GetSecret retrieves a secret by name.
	GetSecret(ctx context.Context, name string) (string, error)

	// ListSecrets returns the names available from this provider. Values
	// are never included.
	ListSecrets(ctx context.Context) ([]string, error)

	// Provider returns the provider name (env, file).
	Provider() string

	// Supports reports whether this provider can serve the name.
	Supports(name string) bool
}

// RefreshableProvider can drop cached values so rotated secrets are re-read.
type RefreshableProvider interface {
	SecretProvider

	Refresh(ctx context.Context) error
}
