package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(65536)

	// CORS defaults
	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600 // 1 hour

	// Session defaults
	DefaultSessionTTL        = 7 * 24 * time.Hour
	DefaultUpstreamTokenTTL  = 30 * time.Second
	DefaultIssuer            = "chatrelay"
	DefaultCookieName        = "chat_session"
	DefaultMaxSoftDrift      = 1
	DefaultStoreBackend      = "memory"
	DefaultSQLitePath        = "data/sessions.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultSQLiteCheckpoint  = 5 * time.Minute
	DefaultPruneSchedule     = "*/15 * * * *"
	DefaultRetention         = 24 * time.Hour

	// Upstream defaults
	DefaultUpstreamName     = "n8n"
	DefaultUpstreamDeadline = 60 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultMaxLineBytes     = 1048576
	DefaultUpstreamRPS      = 20.0
	DefaultUpstreamBurst    = 40
	DefaultHealthInterval   = 30 * time.Second

	// Breaker defaults
	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second

	// Limits defaults
	DefaultIPLimit             = 60
	DefaultIPWindow            = time.Minute
	DefaultSessionLimit        = 30
	DefaultSessionWindow       = time.Minute
	DefaultDomainLimit         = 1000
	DefaultDomainWindow        = time.Hour
	DefaultSessionCreateLimit  = 10
	DefaultSessionCreateWindow = time.Hour
	DefaultLimitsCleanup       = time.Minute

	// Relay defaults
	DefaultMaxConnections    = 10000
	DefaultRelayIdleTimeout  = 300 * time.Second
	DefaultPruneInterval     = 60 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPendingTTL        = 60 * time.Second

	// Security defaults
	DefaultMaxMessageLength = 10000
	DefaultSuspiciousScore  = 50
	DefaultTerminateScore   = 75
	DefaultKeysProvider     = "env"
	DefaultClientKeyName    = "client-token-key"
	DefaultUpstreamKeyName  = "upstream-token-key"
	DefaultKeysEnvPrefix    = "CHATRELAY_"
	DefaultKeysDir          = "/etc/chatrelay/keys"
	MinOperatorKeyLength    = 16

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "chatrelay"
	DefaultSampleRatio      = 1.0
	DefaultServiceName      = "chatrelay"
)

// DefaultDurationBuckets are the stream duration histogram buckets in seconds.
var DefaultDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
//
// Booleans whose default is true (CORS, limits, threat scoring, metrics,
// secret redaction) cannot be told apart from an explicit false after YAML
// decoding, so LoadConfig seeds them before unmarshalling instead.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// CORS defaults
	if len(cfg.Server.CORS.AllowedMethods) == 0 {
		cfg.Server.CORS.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.Server.CORS.AllowedHeaders) == 0 {
		cfg.Server.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID", "X-Session-Token"}
	}
	if len(cfg.Server.CORS.ExposedHeaders) == 0 {
		cfg.Server.CORS.ExposedHeaders = []string{"X-Request-ID", "Retry-After", "X-RateLimit-Remaining"}
	}
	if cfg.Server.CORS.MaxAge == 0 {
		cfg.Server.CORS.MaxAge = DefaultCORSMaxAge
	}

	// Session defaults
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = DefaultSessionTTL
	}
	if cfg.Session.UpstreamTokenTTL == 0 {
		cfg.Session.UpstreamTokenTTL = DefaultUpstreamTokenTTL
	}
	if cfg.Session.Issuer == "" {
		cfg.Session.Issuer = DefaultIssuer
	}
	if cfg.Session.Cookie.Name == "" {
		cfg.Session.Cookie.Name = DefaultCookieName
	}
	if cfg.Session.Fingerprint.MaxSoftDrift == 0 {
		cfg.Session.Fingerprint.MaxSoftDrift = DefaultMaxSoftDrift
	}
	if cfg.Session.Store.Backend == "" {
		cfg.Session.Store.Backend = DefaultStoreBackend
	}
	if cfg.Session.Store.SQLite.Path == "" {
		cfg.Session.Store.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Session.Store.SQLite.BusyTimeout == 0 {
		cfg.Session.Store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Session.Store.SQLite.CheckpointInterval == 0 {
		cfg.Session.Store.SQLite.CheckpointInterval = DefaultSQLiteCheckpoint
	}
	if cfg.Session.Store.PruneSchedule == "" {
		cfg.Session.Store.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.Session.Store.Retention == 0 {
		cfg.Session.Store.Retention = DefaultRetention
	}

	// Upstream defaults
	if cfg.Upstream.Name == "" {
		cfg.Upstream.Name = DefaultUpstreamName
	}
	if cfg.Upstream.Deadline == 0 {
		cfg.Upstream.Deadline = DefaultUpstreamDeadline
	}
	if cfg.Upstream.ConnectTimeout == 0 {
		cfg.Upstream.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Upstream.MaxLineBytes == 0 {
		cfg.Upstream.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.Upstream.RequestsPerSecond == 0 {
		cfg.Upstream.RequestsPerSecond = DefaultUpstreamRPS
	}
	if cfg.Upstream.Burst == 0 {
		cfg.Upstream.Burst = DefaultUpstreamBurst
	}
	if cfg.Upstream.HealthURL == "" {
		cfg.Upstream.HealthURL = cfg.Upstream.WebhookURL
	}
	if cfg.Upstream.HealthInterval == 0 {
		cfg.Upstream.HealthInterval = DefaultHealthInterval
	}

	// Breaker defaults
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = DefaultBreakerCooldown
	}

	// Limits defaults
	applyRuleDefaults(&cfg.Limits.IP, DefaultIPLimit, DefaultIPWindow)
	applyRuleDefaults(&cfg.Limits.Session, DefaultSessionLimit, DefaultSessionWindow)
	applyRuleDefaults(&cfg.Limits.Domain, DefaultDomainLimit, DefaultDomainWindow)
	applyRuleDefaults(&cfg.Limits.SessionCreate, DefaultSessionCreateLimit, DefaultSessionCreateWindow)
	if cfg.Limits.CleanupInterval == 0 {
		cfg.Limits.CleanupInterval = DefaultLimitsCleanup
	}

	// Relay defaults
	if cfg.Relay.MaxConnections == 0 {
		cfg.Relay.MaxConnections = DefaultMaxConnections
	}
	if cfg.Relay.IdleTimeout == 0 {
		cfg.Relay.IdleTimeout = DefaultRelayIdleTimeout
	}
	if cfg.Relay.PruneInterval == 0 {
		cfg.Relay.PruneInterval = DefaultPruneInterval
	}
	if cfg.Relay.HeartbeatInterval == 0 {
		cfg.Relay.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Relay.PendingTTL == 0 {
		cfg.Relay.PendingTTL = DefaultPendingTTL
	}

	// Security defaults
	if cfg.Security.MaxMessageLength == 0 {
		cfg.Security.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Security.Threat.SuspiciousScore == 0 {
		cfg.Security.Threat.SuspiciousScore = DefaultSuspiciousScore
	}
	if cfg.Security.Threat.TerminateScore == 0 {
		cfg.Security.Threat.TerminateScore = DefaultTerminateScore
	}
	if cfg.Security.Keys.Provider == "" {
		cfg.Security.Keys.Provider = DefaultKeysProvider
	}
	if cfg.Security.Keys.ClientKey == "" {
		cfg.Security.Keys.ClientKey = DefaultClientKeyName
	}
	if cfg.Security.Keys.UpstreamKey == "" {
		cfg.Security.Keys.UpstreamKey = DefaultUpstreamKeyName
	}
	if cfg.Security.Keys.EnvPrefix == "" {
		cfg.Security.Keys.EnvPrefix = DefaultKeysEnvPrefix
	}
	if cfg.Security.Keys.Dir == "" {
		cfg.Security.Keys.Dir = DefaultKeysDir
	}
	if cfg.Security.TLS.Enabled {
		cfg.Session.Cookie.Secure = true
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultServiceName
	}
}

// seedBoolDefaults sets the booleans that default to true. It runs before
// YAML decoding so an explicit "false" in the file still wins.
func seedBoolDefaults(cfg *Config) {
	cfg.Server.CORS.Enabled = DefaultCORSEnabled
	cfg.Server.CORS.AllowCredentials = true
	cfg.Limits.Enabled = true
	cfg.Security.Threat.Enabled = true
	cfg.Telemetry.Logging.RedactSecrets = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.Insecure = true
}

func applyRuleDefaults(rule *RuleConfig, limit int, window time.Duration) {
	if rule.Limit == 0 {
		rule.Limit = limit
	}
	if rule.Window == 0 {
		rule.Window = window
	}
}

// NewDefaultConfig returns a configuration with every default applied.
// Tests and the dry-run command start from it.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	seedBoolDefaults(cfg)
	ApplyDefaults(cfg)
	return cfg
}
