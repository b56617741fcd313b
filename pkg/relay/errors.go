package relay

import "errors"

var (
	// ErrSessionBusy is returned when a session already has a relay task
	// in flight.
	ErrSessionBusy = errors.New("session already has a request in flight")

	// ErrNoPendingExchange is returned when a stream is opened without a
	// staged message, or the staged message expired.
	ErrNoPendingExchange = errors.New("no pending message for session")

	// ErrTooManyConnections is returned when the connection cap is reached.
	ErrTooManyConnections = errors.New("too many active connections")

	// ErrIdle is the cancellation cause of a connection pruned for
	// inactivity.
	ErrIdle = errors.New("connection idle")

	// errDeadline is the cancellation cause of the overall relay deadline.
	errDeadline = errors.New("relay deadline exceeded")
)

// Reasons recorded in Result.Reason.
const (
	ReasonCompleted   = "completed"
	ReasonUpstreamErr = "upstream_error"
	ReasonIncomplete  = "incomplete"
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "unavailable"
	ReasonRejected    = "rejected"
	ReasonIdle        = "idle"
	ReasonCanceled    = "canceled"
	ReasonClientGone  = "client_gone"
	ReasonInternal    = "internal"
)

// reasonMessages is the text of the synthetic error event per reason.
var reasonMessages = map[string]string{
	ReasonIncomplete:  "upstream closed without completion",
	ReasonTimeout:     "upstream timed out",
	ReasonUnavailable: "upstream unavailable",
	ReasonRejected:    "upstream rejected the request",
	ReasonIdle:        "connection closed after inactivity",
	ReasonCanceled:    "request canceled",
	ReasonInternal:    "internal error",
}
