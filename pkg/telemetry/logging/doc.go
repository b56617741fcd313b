// Package logging configures structured logging with secret redaction.
//
// # Overview
//
// The logging package builds an slog handler chain:
//   - JSON or text output at a runtime-adjustable level
//   - Redaction of bearer tokens, JWTs, API keys and signing material
//   - Request-scoped fields (request_id, session_id, client_ip) and the
//     active trace and span IDs, taken from the context
//
// Components log through slog.Default().With("component", ...) and the
// *Context methods, so installing the logger with Setup is enough for
// every package to inherit redaction and context fields.
//
// # Usage
//
//	logger, err := logging.Setup(cfg.Telemetry.Logging)
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "session created",
//	    "authorization", "Bearer eyJhbGciOi...", // redacted
//	)
//
// # Redaction
//
// Attribute values whose key names a credential (token, authorization,
// cookie, secret, password, api_key) keep a four character prefix and are
// masked. All other string values, including the message and error
// texts, are scanned with the pattern list; custom patterns from
// configuration are appended to the built-in ones.
package logging
