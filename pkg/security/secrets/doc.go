/*
Package secrets loads the token signing keys and other credentials.

# Providers

  - EnvProvider reads CHATRELAY_<NAME> style environment variables.
  - FileProvider reads one file per secret from a directory (Kubernetes
    secret volumes) and rejects files readable by group or others.

A Resolver chains providers and caches results:

	resolver := secrets.NewResolver(
		[]secrets.SecretProvider{secrets.NewEnvProvider("CHATRELAY_")},
		secrets.CacheConfig{Enabled: true, TTL: 5 * time.Minute, MaxSize: 100},
	)
	keys, err := secrets.LoadSigningKeys(ctx, resolver, "client-token-key", "upstream-token-key")

# Key format

Keys may be given as raw text, "base64:<std base64>", or "hex:<hex>".
Each must decode to at least 32 bytes and the two keys must differ.
GenerateKey produces a fresh key in base64 form.

# References

Config values may embed ${secret:name}; ResolveReferences substitutes them.
The server uses this for upstream.api_key.
*/
package secrets
