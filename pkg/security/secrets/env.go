package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider loads secrets from environment variables.
//
// Names are upper-cased, hyphens become underscores, and the prefix is
// prepended: with prefix "CHATRELAY_" the secret "client-token-key" is read
// from CHATRELAY_CLIENT_TOKEN_KEY.
type EnvProvider struct {
	Prefix string

	// lookup is os.LookupEnv outside tests.
	lookup  func(string) (string, bool)
	environ func() []string
}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{
		Prefix:  prefix,
		lookup:  os.LookupEnv,
		environ: os.Environ,
	}
}

// GetSecret reads the secret from its environment variable. Unset and
// empty variables are both reported as missing.
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	envVar := p.EnvVar(name)

	value, ok := p.lookup(envVar)
	if !ok || value == "" {
		return "", fmt.Errorf("secret not found in environment: %s (env var: %s)", name, envVar)
	}
	return value, nil
}

// ListSecrets returns the secret names of all variables carrying the prefix.
func (p *EnvProvider) ListSecrets(context.Context) ([]string, error) {
	var names []string
	for _, env := range p.environ() {
		key, _, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, p.Prefix) {
			continue
		}
		names = append(names, strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, p.Prefix), "_", "-")))
	}
	return names, nil
}

// Provider returns "env".
func (p *EnvProvider) Provider() string {
	return "env"
}

// Supports always returns true so the provider can act as a fallback.
func (p *EnvProvider) Supports(string) bool {
	return true
}

// EnvVar returns the environment variable consulted for name.
func (p *EnvProvider) EnvVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
