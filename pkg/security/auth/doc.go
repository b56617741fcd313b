/*
Package auth guards the relay's operational endpoints with static operator
keys.

Browser clients authenticate with session tokens; operators reading the
connection statistics or the metrics endpoint present one of the keys
configured under security.operator.keys instead.

# Basic Usage

	validator := auth.NewKeyValidator([]auth.Key{
		{Name: "oncall", Secret: "0123456789abcdef", Enabled: true},
	})

	requireOperator := auth.Middleware(validator, auth.DefaultSources)
	r.With(requireOperator).Get("/chat/stats", stats.ServeHTTP)

Keys are read from the X-Operator-Key header or from an
"Authorization: Bearer" header. A validator with no keys admits every
request, so an unconfigured deployment keeps the endpoints open.

# Hot Reload

Replace swaps the key set atomically:

	validator.Replace(newKeys)

# Extracting Key Info

	info, ok := auth.KeyInfoFromContext(r.Context())
	if ok {
	    slog.Info("operator request", "operator", info.Name)
	}

# Security Considerations

Only SHA-256 digests of the keys are held in memory, and every candidate
is compared in constant time. Rejected attempts are logged with the
remote address but never with the presented key.
*/
package auth
