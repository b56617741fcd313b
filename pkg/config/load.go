package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "CHATRELAY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// parseConfig decodes YAML on top of the seeded boolean defaults.
func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	seedBoolDefaults(&cfg)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention CHATRELAY_SECTION_FIELD (e.g., CHATRELAY_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply environment variable overrides
// 3. Apply default values to anything still unset
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	return loadWithOverrides(path, nil)
}

// loadWithOverrides reads path, applies environment overrides, defaults and
// then the caller's overrides, and validates the result.
func loadWithOverrides(path string, overrides []Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)
	for _, o := range overrides {
		o(cfg)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed values are ignored and the file value is kept.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	envBool("SERVER_TRUST_PROXY_HEADERS", &cfg.Server.TrustProxyHeaders)
	envList("SERVER_CORS_ALLOWED_ORIGINS", &cfg.Server.CORS.AllowedOrigins)

	// Session overrides
	envDuration("SESSION_TTL", &cfg.Session.TTL)
	envDuration("SESSION_UPSTREAM_TOKEN_TTL", &cfg.Session.UpstreamTokenTTL)
	envList("SESSION_ALLOWED_ORIGINS", &cfg.Session.AllowedOrigins)
	envString("SESSION_ISSUER", &cfg.Session.Issuer)
	envBool("SESSION_COOKIE_SECURE", &cfg.Session.Cookie.Secure)
	envString("SESSION_STORE_BACKEND", &cfg.Session.Store.Backend)
	envString("SESSION_STORE_SQLITE_PATH", &cfg.Session.Store.SQLite.Path)
	envString("SESSION_STORE_PRUNE_SCHEDULE", &cfg.Session.Store.PruneSchedule)
	envDuration("SESSION_STORE_RETENTION", &cfg.Session.Store.Retention)

	// Upstream overrides
	envString("UPSTREAM_WEBHOOK_URL", &cfg.Upstream.WebhookURL)
	envString("UPSTREAM_API_KEY", &cfg.Upstream.APIKey)
	envDuration("UPSTREAM_DEADLINE", &cfg.Upstream.Deadline)
	envDuration("UPSTREAM_CONNECT_TIMEOUT", &cfg.Upstream.ConnectTimeout)
	envString("UPSTREAM_HEALTH_URL", &cfg.Upstream.HealthURL)
	if val := os.Getenv(EnvPrefix + "UPSTREAM_REQUESTS_PER_SECOND"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Upstream.RequestsPerSecond = f
		}
	}

	// Breaker overrides
	envInt("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envDuration("BREAKER_COOLDOWN", &cfg.Breaker.Cooldown)

	// Limits overrides
	envBool("LIMITS_ENABLED", &cfg.Limits.Enabled)
	envInt("LIMITS_IP_LIMIT", &cfg.Limits.IP.Limit)
	envDuration("LIMITS_IP_WINDOW", &cfg.Limits.IP.Window)
	envInt("LIMITS_SESSION_LIMIT", &cfg.Limits.Session.Limit)
	envDuration("LIMITS_SESSION_WINDOW", &cfg.Limits.Session.Window)
	envInt("LIMITS_DOMAIN_LIMIT", &cfg.Limits.Domain.Limit)
	envDuration("LIMITS_DOMAIN_WINDOW", &cfg.Limits.Domain.Window)

	// Relay overrides
	envInt("RELAY_MAX_CONNECTIONS", &cfg.Relay.MaxConnections)
	envDuration("RELAY_IDLE_TIMEOUT", &cfg.Relay.IdleTimeout)
	envDuration("RELAY_HEARTBEAT_INTERVAL", &cfg.Relay.HeartbeatInterval)

	// Security overrides
	envInt("SECURITY_MAX_MESSAGE_LENGTH", &cfg.Security.MaxMessageLength)
	envBool("SECURITY_THREAT_ENABLED", &cfg.Security.Threat.Enabled)
	envString("SECURITY_KEYS_PROVIDER", &cfg.Security.Keys.Provider)
	envString("SECURITY_KEYS_DIR", &cfg.Security.Keys.Dir)
	envBool("SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	envString("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
	if val := os.Getenv(EnvPrefix + "SECURITY_OPERATOR_KEY"); val != "" {
		cfg.Security.Operator.Keys = append(cfg.Security.Operator.Keys, OperatorKeyConfig{Name: "env", Key: val})
	}

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

// envList reads a comma separated list.
func envList(name string, dst *[]string) {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
