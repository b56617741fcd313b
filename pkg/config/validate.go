package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateBreaker(&cfg.Breaker)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateRelay(&cfg.Relay)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid host:port: %v", err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}

	for i, origin := range cfg.CORS.AllowedOrigins {
		if origin == "*" && cfg.CORS.AllowCredentials {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("server.cors.allowed_origins[%d]", i),
				Message: "wildcard origin cannot be combined with allow_credentials",
			})
		}
	}

	return errs
}

// validateSession validates session configuration.
func validateSession(cfg *SessionConfig) []FieldError {
	var errs []FieldError

	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{Field: "session.ttl", Message: "session ttl must be positive"})
	}
	if cfg.UpstreamTokenTTL <= 0 {
		errs = append(errs, FieldError{Field: "session.upstream_token_ttl", Message: "upstream token ttl must be positive"})
	}
	if cfg.UpstreamTokenTTL > cfg.TTL && cfg.TTL > 0 {
		errs = append(errs, FieldError{
			Field:   "session.upstream_token_ttl",
			Message: "upstream token ttl must not exceed session ttl",
		})
	}

	if len(cfg.AllowedOrigins) == 0 {
		errs = append(errs, FieldError{
			Field:   "session.allowed_origins",
			Message: "at least one allowed origin must be configured",
		})
	}
	for i, origin := range cfg.AllowedOrigins {
		if strings.Contains(origin, "://") || strings.ContainsAny(origin, "/ ") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("session.allowed_origins[%d]", i),
				Message: fmt.Sprintf("%q must be a bare host or *.host pattern", origin),
			})
		}
	}

	if cfg.Cookie.Name == "" {
		errs = append(errs, FieldError{Field: "session.cookie.name", Message: "cookie name is required"})
	}
	if cfg.Fingerprint.MaxSoftDrift < 0 || cfg.Fingerprint.MaxSoftDrift > 2 {
		errs = append(errs, FieldError{
			Field:   "session.fingerprint.max_soft_drift",
			Message: "max soft drift must be between 0 and 2",
		})
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "session.store.sqlite.path", Message: "sqlite path is required"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "session.store.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", cfg.Store.Backend),
		})
	}

	if cfg.Store.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Store.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "session.store.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.Store.Retention < 0 {
		errs = append(errs, FieldError{Field: "session.store.retention", Message: "retention must be non-negative"})
	}

	return errs
}

// validateUpstream validates upstream webhook configuration.
func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.WebhookURL == "" {
		errs = append(errs, FieldError{Field: "upstream.webhook_url", Message: "webhook url is required"})
	} else if err := validateHTTPURL(cfg.WebhookURL); err != nil {
		errs = append(errs, FieldError{Field: "upstream.webhook_url", Message: err.Error()})
	}
	if cfg.HealthURL != "" && cfg.HealthURL != cfg.WebhookURL {
		if err := validateHTTPURL(cfg.HealthURL); err != nil {
			errs = append(errs, FieldError{Field: "upstream.health_url", Message: err.Error()})
		}
	}

	if cfg.Deadline <= 0 {
		errs = append(errs, FieldError{Field: "upstream.deadline", Message: "deadline must be positive"})
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, FieldError{Field: "upstream.connect_timeout", Message: "connect timeout must be positive"})
	} else if cfg.Deadline > 0 && cfg.ConnectTimeout > cfg.Deadline {
		errs = append(errs, FieldError{
			Field:   "upstream.connect_timeout",
			Message: "connect timeout must not exceed the relay deadline",
		})
	}
	if cfg.MaxLineBytes < 1024 {
		errs = append(errs, FieldError{Field: "upstream.max_line_bytes", Message: "max line bytes must be at least 1024"})
	}
	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{Field: "upstream.requests_per_second", Message: "requests per second must be non-negative"})
	}
	if cfg.Burst < 0 {
		errs = append(errs, FieldError{Field: "upstream.burst", Message: "burst must be non-negative"})
	}

	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// validateBreaker validates circuit breaker configuration.
func validateBreaker(cfg *BreakerConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "breaker.failure_threshold", Message: "failure threshold must be at least 1"})
	}
	if cfg.Cooldown <= 0 {
		errs = append(errs, FieldError{Field: "breaker.cooldown", Message: "cooldown must be positive"})
	}

	return errs
}

// validateLimits validates rate limit rules.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateRule("limits.ip", cfg.IP)...)
	errs = append(errs, validateRule("limits.session", cfg.Session)...)
	errs = append(errs, validateRule("limits.domain", cfg.Domain)...)
	errs = append(errs, validateRule("limits.session_create", cfg.SessionCreate)...)

	if cfg.CleanupInterval < 0 {
		errs = append(errs, FieldError{Field: "limits.cleanup_interval", Message: "cleanup interval must be non-negative"})
	}

	return errs
}

func validateRule(prefix string, rule RuleConfig) []FieldError {
	var errs []FieldError
	if rule.Limit < 0 {
		errs = append(errs, FieldError{Field: prefix + ".limit", Message: "limit must be non-negative"})
	}
	if rule.Limit > 0 && rule.Window <= 0 {
		errs = append(errs, FieldError{Field: prefix + ".window", Message: "window must be positive when a limit is set"})
	}
	return errs
}

// validateRelay validates streaming relay configuration.
func validateRelay(cfg *RelayConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxConnections < 1 {
		errs = append(errs, FieldError{Field: "relay.max_connections", Message: "max connections must be at least 1"})
	}
	if cfg.IdleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "relay.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.PruneInterval <= 0 {
		errs = append(errs, FieldError{Field: "relay.prune_interval", Message: "prune interval must be positive"})
	}
	if cfg.HeartbeatInterval <= 0 {
		errs = append(errs, FieldError{Field: "relay.heartbeat_interval", Message: "heartbeat interval must be positive"})
	}
	if cfg.PendingTTL <= 0 {
		errs = append(errs, FieldError{Field: "relay.pending_ttl", Message: "pending ttl must be positive"})
	}

	return errs
}

// validateSecurity validates security configuration.
func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxMessageLength < 1 {
		errs = append(errs, FieldError{Field: "security.max_message_length", Message: "max message length must be at least 1"})
	}

	if cfg.Threat.SuspiciousScore < 0 || cfg.Threat.SuspiciousScore > 100 {
		errs = append(errs, FieldError{Field: "security.threat.suspicious_score", Message: "score must be between 0 and 100"})
	}
	if cfg.Threat.TerminateScore < 0 || cfg.Threat.TerminateScore > 100 {
		errs = append(errs, FieldError{Field: "security.threat.terminate_score", Message: "score must be between 0 and 100"})
	}
	if cfg.Threat.TerminateScore < cfg.Threat.SuspiciousScore {
		errs = append(errs, FieldError{
			Field:   "security.threat.terminate_score",
			Message: "terminate score must not be below suspicious score",
		})
	}

	switch cfg.Keys.Provider {
	case "env", "file":
	default:
		errs = append(errs, FieldError{
			Field:   "security.keys.provider",
			Message: fmt.Sprintf("invalid provider %q (must be env or file)", cfg.Keys.Provider),
		})
	}
	if cfg.Keys.ClientKey == cfg.Keys.UpstreamKey {
		errs = append(errs, FieldError{
			Field:   "security.keys.upstream_key",
			Message: "client and upstream tokens must use different keys",
		})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.cert_file", Message: "cert file is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.key_file", Message: "key file is required when TLS is enabled"})
		}
	}

	names := make(map[string]bool, len(cfg.Operator.Keys))
	for i, key := range cfg.Operator.Keys {
		field := fmt.Sprintf("security.operator.keys[%d]", i)
		if key.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "operator key name is required"})
		} else if names[key.Name] {
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate operator key name %q", key.Name)})
		}
		names[key.Name] = true
		if len(key.Key) < MinOperatorKeyLength {
			errs = append(errs, FieldError{
				Field:   field + ".key",
				Message: fmt.Sprintf("operator key must be at least %d characters", MinOperatorKeyLength),
			})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
	}

	return errs
}
