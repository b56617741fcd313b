package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/chatrelay/pkg/cli"
	"mercator-hq/chatrelay/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file the way "run" does, including environment
overrides and defaults, and report every problem found.

The exit status is 0 for a valid file and 2 otherwise.

Examples:
  # Validate the default config file
  chatrelay validate

  # Validate a specific file and print JSON
  chatrelay validate --config /etc/chatrelay/config.yaml --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
}

type validationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type configSummary struct {
	ListenAddress    string        `json:"listen_address"`
	TLS              bool          `json:"tls"`
	Store            string        `json:"store"`
	SessionTTL       time.Duration `json:"session_ttl"`
	UpstreamTokenTTL time.Duration `json:"upstream_token_ttl"`
	AllowedOrigins   []string      `json:"allowed_origins"`
	Upstream         string        `json:"upstream"`
	UpstreamHost     string        `json:"upstream_host"`
	UpstreamDeadline time.Duration `json:"upstream_deadline"`
	BreakerThreshold int           `json:"breaker_threshold"`
	RateLimits       bool          `json:"rate_limits"`
	MaxConnections   int           `json:"max_connections"`
	ThreatScoring    bool          `json:"threat_scoring"`
	KeyProvider      string        `json:"key_provider"`
}

type validationReport struct {
	ConfigPath string            `json:"config_path"`
	Valid      bool              `json:"valid"`
	Issues     []validationIssue `json:"issues,omitempty"`
	Summary    *configSummary    `json:"summary,omitempty"`
}

// WriteText renders the report for a terminal.
func (r *validationReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Configuration: %s\n\n", r.ConfigPath)
	if !r.Valid {
		fmt.Fprintf(w, "✗ %d problem(s) found:\n", len(r.Issues))
		for _, issue := range r.Issues {
			if issue.Field != "" {
				fmt.Fprintf(w, "  - %s: %s\n", issue.Field, issue.Message)
			} else {
				fmt.Fprintf(w, "  - %s\n", issue.Message)
			}
		}
		return nil
	}

	s := r.Summary
	fmt.Fprintln(w, "✓ Configuration valid")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Listen address:   %s (tls: %t)\n", s.ListenAddress, s.TLS)
	fmt.Fprintf(w, "  Session store:    %s\n", s.Store)
	fmt.Fprintf(w, "  Session TTL:      %s (upstream token %s)\n", s.SessionTTL, s.UpstreamTokenTTL)
	fmt.Fprintf(w, "  Allowed origins:  %v\n", s.AllowedOrigins)
	fmt.Fprintf(w, "  Upstream:         %s at %s (deadline %s)\n", s.Upstream, s.UpstreamHost, s.UpstreamDeadline)
	fmt.Fprintf(w, "  Breaker:          opens after %d failures\n", s.BreakerThreshold)
	fmt.Fprintf(w, "  Rate limits:      %t\n", s.RateLimits)
	fmt.Fprintf(w, "  Max connections:  %d\n", s.MaxConnections)
	fmt.Fprintf(w, "  Threat scoring:   %t\n", s.ThreatScoring)
	fmt.Fprintf(w, "  Signing keys:     %s provider\n", s.KeyProvider)
	return nil
}

// buildValidationReport loads path and collects every validation problem.
func buildValidationReport(path string) *validationReport {
	report := &validationReport{ConfigPath: path}

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Errors {
				report.Issues = append(report.Issues, validationIssue{Field: fe.Field, Message: fe.Message})
			}
		} else {
			report.Issues = append(report.Issues, validationIssue{Message: err.Error()})
		}
		return report
	}

	host := cfg.Upstream.WebhookURL
	if u, err := url.Parse(cfg.Upstream.WebhookURL); err == nil {
		host = u.Host
	}

	report.Valid = true
	report.Summary = &configSummary{
		ListenAddress:    cfg.Server.ListenAddress,
		TLS:              cfg.Security.TLS.Enabled,
		Store:            cfg.Session.Store.Backend,
		SessionTTL:       cfg.Session.TTL,
		UpstreamTokenTTL: cfg.Session.UpstreamTokenTTL,
		AllowedOrigins:   cfg.Session.AllowedOrigins,
		Upstream:         cfg.Upstream.Name,
		UpstreamHost:     host,
		UpstreamDeadline: cfg.Upstream.Deadline,
		BreakerThreshold: cfg.Breaker.FailureThreshold,
		RateLimits:       cfg.Limits.Enabled,
		MaxConnections:   cfg.Relay.MaxConnections,
		ThreatScoring:    cfg.Security.Threat.Enabled,
		KeyProvider:      cfg.Security.Keys.Provider,
	}
	return report
}

func validateConfig(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(validateFlags.format))
	if err != nil {
		return err
	}

	report := buildValidationReport(cfgFile)
	if err := formatter.FormatTo(cmd.OutOrStdout(), report); err != nil {
		return cli.NewCommandError("validate", err)
	}

	if !report.Valid {
		return cli.NewConfigError("", fmt.Sprintf("%s is invalid", cfgFile))
	}
	return nil
}
