package config

import "time"

// Config is the root configuration structure for the chat relay.
// It contains all configuration sections for the HTTP server, session
// management, the upstream webhook, abuse protection, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and CORS.
	Server ServerConfig `yaml:"server"`

	// Session contains session lifetime, token, fingerprint, and storage settings.
	Session SessionConfig `yaml:"session"`

	// Upstream contains configuration for the text-generation webhook.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Breaker contains circuit breaker thresholds for upstream calls.
	Breaker BreakerConfig `yaml:"breaker"`

	// Limits contains the per-scope sliding window rate limits.
	Limits LimitsConfig `yaml:"limits"`

	// Relay contains streaming relay settings: connection caps, idle pruning,
	// heartbeats, and pending exchange lifetime.
	Relay RelayConfig `yaml:"relay"`

	// Security contains input validation, anomaly scoring, signing key,
	// and TLS settings.
	Security SecurityConfig `yaml:"security"`

	// Telemetry contains configuration for logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of a
	// non-streaming response. Streaming routes are bounded by the relay
	// deadline instead, so the server-level write timeout is disabled.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits JSON request bodies.
	// Default: 65536
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TrustProxyHeaders makes the server honour X-Forwarded-For and
	// X-Real-IP when deriving the client IP.
	// Default: false
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS is enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed browser origins.
	// When empty, origins derived from session.allowed_origins are used.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods.
	// Default: ["GET", "POST", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed request headers.
	// Default: ["Authorization", "Content-Type", "X-Request-ID", "X-Session-Token"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// ExposedHeaders is a list of headers exposed to the browser.
	// Default: ["X-Request-ID", "Retry-After", "X-RateLimit-Remaining"]
	ExposedHeaders []string `yaml:"exposed_headers"`

	// MaxAge is the preflight cache lifetime in seconds.
	// Default: 3600
	MaxAge int `yaml:"max_age"`

	// AllowCredentials allows the session cookie on cross-origin requests.
	// Default: true
	AllowCredentials bool `yaml:"allow_credentials"`
}

// SessionConfig contains configuration for the session manager.
type SessionConfig struct {
	// TTL is the lifetime of a session and of its client token.
	// Default: 168h (7 days)
	TTL time.Duration `yaml:"ttl"`

	// UpstreamTokenTTL is the lifetime of a per-call upstream token.
	// It is always clamped to the remaining session lifetime.
	// Default: 30s
	UpstreamTokenTTL time.Duration `yaml:"upstream_token_ttl"`

	// AllowedOrigins lists the embedding domains that may create sessions.
	// Entries are bare hosts ("example.com") or wildcards ("*.example.com").
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Issuer is the "iss" claim written into both tokens.
	// Default: "chatrelay"
	Issuer string `yaml:"issuer"`

	// Cookie contains session cookie settings.
	Cookie CookieConfig `yaml:"cookie"`

	// Fingerprint contains the similarity tolerance for fingerprint checks.
	Fingerprint FingerprintConfig `yaml:"fingerprint"`

	// Store selects where session state lives.
	Store StoreConfig `yaml:"store"`
}

// CookieConfig configures the session cookie.
type CookieConfig struct {
	// Name is the cookie name.
	// Default: "chat_session"
	Name string `yaml:"name"`

	// Secure marks the cookie Secure. Forced on when TLS is enabled.
	// Default: false
	Secure bool `yaml:"secure"`

	// Domain is the optional cookie domain.
	Domain string `yaml:"domain"`
}

// FingerprintConfig controls fingerprint similarity.
type FingerprintConfig struct {
	// MaxSoftDrift is how many soft fields (language, screen) may differ
	// from the values recorded at session creation.
	// Default: 1
	MaxSoftDrift int `yaml:"max_soft_drift"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	// Backend is the store backend.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// PruneSchedule is a cron expression for purging finished sessions.
	// Default: "*/15 * * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// Retention is how long expired or terminated sessions are kept before
	// the pruner deletes them.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`
}

// SQLiteConfig contains SQLite store configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/sessions.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// UpstreamConfig contains configuration for the text-generation webhook.
type UpstreamConfig struct {
	// Name labels the upstream in logs and metrics.
	// Default: "n8n"
	Name string `yaml:"name"`

	// WebhookURL is the endpoint chat messages are POSTed to.
	WebhookURL string `yaml:"webhook_url"`

	// APIKey is an optional static key sent as X-API-Key.
	APIKey string `yaml:"api_key"`

	// Deadline bounds one whole relay cycle, from request to terminal event.
	// Default: 60s
	Deadline time.Duration `yaml:"deadline"`

	// ConnectTimeout bounds dialing and waiting for response headers.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// MaxLineBytes caps a single buffered upstream line.
	// Default: 1048576 (1MB)
	MaxLineBytes int `yaml:"max_line_bytes"`

	// RequestsPerSecond paces outbound calls to the upstream (0 = unpaced).
	// Default: 20
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the pacing burst size.
	// Default: 40
	Burst int `yaml:"burst"`

	// HealthURL is probed by the readiness check. Defaults to WebhookURL.
	HealthURL string `yaml:"health_url"`

	// HealthInterval is the probe interval while healthy.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`
}

// BreakerConfig contains circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the circuit stays open before a trial call.
	// Default: 30s
	Cooldown time.Duration `yaml:"cooldown"`
}

// LimitsConfig contains sliding window rate limits per scope.
type LimitsConfig struct {
	// Enabled controls whether rate limiting is enforced.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// IP limits requests per client IP.
	// Default: 60 per 1m
	IP RuleConfig `yaml:"ip"`

	// Session limits requests per session.
	// Default: 30 per 1m
	Session RuleConfig `yaml:"session"`

	// Domain limits requests per origin domain.
	// Default: 1000 per 1h
	Domain RuleConfig `yaml:"domain"`

	// SessionCreate limits session creation per client IP.
	// Default: 10 per 1h
	SessionCreate RuleConfig `yaml:"session_create"`

	// CleanupInterval is how often idle counters are evicted.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RuleConfig is a single sliding window rule. A zero limit disables the rule.
type RuleConfig struct {
	// Limit is the maximum number of hits inside Window.
	Limit int `yaml:"limit"`

	// Window is the trailing window length.
	Window time.Duration `yaml:"window"`
}

// RelayConfig contains streaming relay settings.
type RelayConfig struct {
	// MaxConnections caps concurrently active relay tasks.
	// Default: 10000
	MaxConnections int `yaml:"max_connections"`

	// IdleTimeout is how long a connection may make no client-side progress
	// before it is pruned and its upstream call cancelled.
	// Default: 300s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// PruneInterval is how often idle connections are checked.
	// Default: 60s
	PruneInterval time.Duration `yaml:"prune_interval"`

	// HeartbeatInterval is the SSE keep-alive comment interval.
	// Default: 30s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PendingTTL is how long a staged message waits for its GET stream.
	// Default: 60s
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// MaxMessageLength is the maximum accepted message length in characters.
	// Default: 10000
	MaxMessageLength int `yaml:"max_message_length"`

	// Threat contains anomaly scoring thresholds.
	Threat ThreatConfig `yaml:"threat"`

	// Keys configures where the two token signing keys come from.
	Keys KeysConfig `yaml:"keys"`

	// TLS contains TLS/HTTPS configuration.
	TLS TLSConfig `yaml:"tls"`

	// Operator guards the operational endpoints with static keys.
	Operator OperatorConfig `yaml:"operator"`
}

// ThreatConfig contains anomaly scoring thresholds.
type ThreatConfig struct {
	// Enabled controls anomaly scoring.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// SuspiciousScore is the score above which activity is logged as suspicious.
	// Default: 50
	SuspiciousScore int `yaml:"suspicious_score"`

	// TerminateScore is the score above which the session is terminated.
	// Default: 75
	TerminateScore int `yaml:"terminate_score"`
}

// KeysConfig configures the token signing keys.
type KeysConfig struct {
	// Provider selects the secret provider.
	// Options: "env", "file"
	// Default: "env"
	Provider string `yaml:"provider"`

	// ClientKey is the secret name of the client token key.
	// Default: "client-token-key" (env: CHATRELAY_CLIENT_TOKEN_KEY)
	ClientKey string `yaml:"client_key"`

	// UpstreamKey is the secret name of the upstream token key.
	// Default: "upstream-token-key" (env: CHATRELAY_UPSTREAM_TOKEN_KEY)
	UpstreamKey string `yaml:"upstream_key"`

	// EnvPrefix is prepended to env secret names.
	// Default: "CHATRELAY_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is the directory holding key files when Provider is "file".
	// Default: "/etc/chatrelay/keys"
	Dir string `yaml:"dir"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether the server terminates TLS.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM private key.
	KeyFile string `yaml:"key_file"`
}

// OperatorConfig contains the keys accepted on the operational endpoints.
// With no keys configured the endpoints are open.
type OperatorConfig struct {
	// Keys lists the accepted operator keys.
	Keys []OperatorKeyConfig `yaml:"keys"`

	// ProtectMetrics also requires a key on the metrics endpoint.
	// Default: false
	ProtectMetrics bool `yaml:"protect_metrics"`
}

// OperatorKeyConfig is one operator key.
type OperatorKeyConfig struct {
	// Name identifies the key holder in logs.
	Name string `yaml:"name"`

	// Key is the secret value, at least 16 characters.
	Key string `yaml:"key"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets scrubs tokens and keys from log arguments.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	// RedactPatterns adds custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom log redaction rule.
type RedactPattern struct {
	// Name identifies the pattern.
	Name string `yaml:"name"`

	// Pattern is a regular expression.
	Pattern string `yaml:"pattern"`

	// Replacement replaces each match.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "chatrelay"
	Namespace string `yaml:"namespace"`

	// DurationBuckets are histogram buckets for stream durations in seconds.
	// Default: [0.1, 0.5, 1, 2.5, 5, 10, 30, 60]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces sampled (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "chatrelay"
	ServiceName string `yaml:"service_name"`
}
