package middleware

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// Context keys for values only this package sets. Request, session and
// client identity live in the logging package so every log line carries them.
const (
	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"
)
