// Package upstream is the HTTP client for the text-generation webhook.
//
// # Calls
//
// Client.Send posts one chat message as JSON:
//
//	{
//	  "message": "hello",
//	  "timestamp": "2026-03-01T12:00:00Z",
//	  "session": {"id": "...", "origin_domain": "example.com"},
//	  "jwt_token": "<upstream token>"
//	}
//
// with the upstream token also sent as a Bearer credential. Once the
// webhook answers 2xx the body is returned as a Stream whose Recv yields
// raw network reads. The client does not split lines or parse events;
// the relay owns reassembly.
//
// Send never retries. Outbound calls are paced with a token bucket so a
// burst of clients cannot overrun the webhook.
//
// # Errors
//
//   - StatusError: non-2xx answer
//   - TimeoutError: connect or stream deadline exceeded
//   - TransportError: network failure
//
// IsFailure tells the circuit breaker which of these count against the
// upstream.
//
// # Health
//
// Prober calls Client.Probe on an interval and backs off exponentially
// while probes fail. Readiness checks read Prober.Healthy.
package upstream
