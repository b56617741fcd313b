// Package session implements session creation, authentication, and
// termination for widget clients.
//
// # Lifecycle
//
//	created --validate--> active --terminate/mismatch/anomaly--> terminated
//	                             \--lifetime over (checked on validate)--> expired
//
// Expiry is detected lazily by Manager.Validate. The Pruner only deletes
// records that are already final or long past their expiry, so it never
// decides whether a session is still valid.
//
// # Tokens
//
// Two token kinds are issued, each signed with its own HMAC key:
//
//   - ClientToken: held by the browser for the whole session lifetime.
//     It carries the session id and the fingerprint hash.
//   - UpstreamToken: minted per upstream call with a lifetime of seconds,
//     never outliving the session.
//
// The two are distinct Go types so one cannot be passed where the other is
// expected.
//
// # Fingerprints
//
// Fingerprint material (user agent, client IP, Accept-Language, screen) is
// normalized and hashed field by field. Validation requires the user agent
// class and network class to match exactly and tolerates drift in up to
// MaxSoftDrift of the soft fields.
//
// # Storage
//
// MemoryStore is the default. SQLiteStore keeps sessions across restarts
// of a single instance.
package session
