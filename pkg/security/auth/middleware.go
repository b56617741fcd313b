package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
)

// KeySource names a header carrying the operator key.
type KeySource struct {
	Header string
	Scheme string // "Bearer", etc. (optional)
}

// DefaultSources reads X-Operator-Key, then a bearer Authorization header.
var DefaultSources = []KeySource{
	{Header: "X-Operator-Key"},
	{Header: "Authorization", Scheme: "Bearer"},
}

// Middleware rejects requests without a valid operator key with 401. A
// store with no keys admits every request.
func Middleware(store KeyStore, sources []KeySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store.Len() == 0 {
				next.ServeHTTP(w, r)
				return
			}

			info, err := store.Validate(extractKey(r, sources))
			if err != nil {
				slog.Warn("operator authentication failed",
					"error", err,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				message := "A valid operator key is required."
				if errors.Is(err, ErrKeyDisabled) {
					message = "This operator key is disabled."
				}
				_ = proxy.WriteErrorResponse(w, types.NewAuthenticationError(message, types.CodeInvalidOperatorKey))
				return
			}

			slog.Debug("operator authenticated",
				"operator", info.Name,
				"path", r.URL.Path,
			)

			ctx := context.WithValue(r.Context(), keyInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractKey returns the first key found in sources, or "".
func extractKey(r *http.Request, sources []KeySource) string {
	for _, source := range sources {
		value := r.Header.Get(source.Header)
		if value == "" {
			continue
		}
		if source.Scheme == "" {
			return value
		}
		prefix := source.Scheme + " "
		if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
			return value[len(prefix):]
		}
	}
	return ""
}

type contextKey string

// #nosec G101 - This is a context key constant, not a credential
const keyInfoKey contextKey = "operator_key_info"

// KeyInfoFromContext returns the operator accepted by Middleware.
func KeyInfoFromContext(ctx context.Context) (*KeyInfo, bool) {
	info, ok := ctx.Value(keyInfoKey).(*KeyInfo)
	return info, ok
}
