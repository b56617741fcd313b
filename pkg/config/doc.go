// Package config provides configuration management for the chat relay.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention CHATRELAY_SECTION_FIELD:
//
//   - CHATRELAY_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - CHATRELAY_UPSTREAM_WEBHOOK_URL overrides upstream.webhook_url
//   - CHATRELAY_SESSION_ALLOWED_ORIGINS overrides session.allowed_origins (comma separated)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and invokes a
// callback with the freshly validated configuration. Only allowed origins
// and rate limit rules are applied live; other sections need a restart.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	session:
//	  allowed_origins: ["example.com", "*.example.org"]
//
//	upstream:
//	  webhook_url: "https://n8n.internal/webhook/chat"
//	  deadline: 60s
//
//	limits:
//	  ip: {limit: 60, window: 1m}
package config
