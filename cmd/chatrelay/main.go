// Chatrelay is a session-authenticated streaming relay between browser chat
// widgets and a slow text-generation webhook (n8n).
//
// It issues origin-bound sessions to embedding pages, checks every chat
// message against the session fingerprint and the rate limits, and relays
// the webhook's newline-delimited JSON output to the browser as
// Server-Sent Events or NDJSON, guarded by a circuit breaker.
//
// Usage:
//
//	# Start the relay with the default configuration file
//	chatrelay run
//
//	# Start with a custom configuration file
//	chatrelay run --config /etc/chatrelay/config.yaml
//
//	# Check a configuration file without starting
//	chatrelay validate --config /etc/chatrelay/config.yaml
//
//	# Generate the two token signing keys
//	chatrelay keys generate
//
//	# Show version information
//	chatrelay version
package main

func main() {
	Execute()
}
