/*
Package security groups the relay's security subpackages:

  - validation: origin allow-lists, identity (IP, user agent) and message checks
  - threat: bot and spam heuristics plus the per-session anomaly scorer
  - secrets: signing key resolution from the environment or key files
  - auth: operator keys for the operational endpoints
  - tls: certificate loading and hot reload for HTTPS

# Signing Keys

The client token key and the upstream token key are resolved by name:

	resolver := secrets.NewResolver([]secrets.SecretProvider{
		secrets.NewEnvProvider("CHATRELAY_"),
	}, secrets.CacheConfig{})

	keys, err := secrets.LoadSigningKeys(ctx, resolver, "client-token-key", "upstream-token-key")
	if err != nil {
		log.Fatal(err)
	}

# TLS

	certs, err := tls.NewReloader("/etc/chatrelay/tls/server.crt", "/etc/chatrelay/tls/server.key")
	if err != nil {
		log.Fatal(err)
	}
	httpServer.TLSConfig = tls.ServerConfig(certs)

# Operator Keys

	validator := auth.NewKeyValidator(keys)
	r.With(auth.Middleware(validator, auth.DefaultSources)).Get("/chat/stats", stats)
*/
package security
