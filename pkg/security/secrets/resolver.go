package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// secretRefRegex matches ${secret:name} references in configuration values.
var secretRefRegex = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver tries providers in order and caches what it finds.
type Resolver struct {
	providers []SecretProvider
	cache     *Cache
}

// NewResolver creates a resolver over providers, tried in the given order.
func NewResolver(providers []SecretProvider, cacheConfig CacheConfig) *Resolver {
	return &Resolver{
		providers: providers,
		cache:     NewCache(cacheConfig),
	}
}

// GetSecret returns the value from the first provider that has it.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := r.cache.Get(name); ok {
		return value, nil
	}

	var lastErr error
	for _, provider := range r.providers {
		if !provider.Supports(name) {
			continue
		}

		value, err := provider.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			slog.Debug("provider failed to get secret",
				"provider", provider.Provider(),
				"name", redactSecretName(name),
				"error", err,
			)
			continue
		}

		r.cache.Set(name, value)
		slog.Debug("secret resolved",
			"provider", provider.Provider(),
			"name", redactSecretName(name),
		)
		return value, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", name, lastErr)
	}
	return "", fmt.Errorf("secret not found: %q (no provider supports this secret)", name)
}

// ResolveReferences replaces ${secret:name} references in input. Unresolved
// references are left in place and reported in the returned error.
func (r *Resolver) ResolveReferences(ctx context.Context, input string) (string, error) {
	var problems []string

	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRefRegex.FindStringSubmatch(match)[1]
		value, err := r.GetSecret(ctx, name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%q: %v", name, err))
			return match
		}
		return value
	})

	if len(problems) > 0 {
		return output, fmt.Errorf("failed to resolve secret references: %s", strings.Join(problems, "; "))
	}
	return output, nil
}

// Refresh refreshes every refreshable provider and clears the cache.
func (r *Resolver) Refresh(ctx context.Context) error {
	var problems []string
	for _, provider := range r.providers {
		refreshable, ok := provider.(RefreshableProvider)
		if !ok {
			continue
		}
		if err := refreshable.Refresh(ctx); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", provider.Provider(), err))
		}
	}

	r.cache.Clear()

	if len(problems) > 0 {
		return fmt.Errorf("failed to refresh some providers: %s", strings.Join(problems, "; "))
	}
	return nil
}

// redactSecretName keeps the first and last two characters of a name.
func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
