// Package types defines the JSON request and response bodies of the relay's
// HTTP API.
//
// # Core Types
//
// Request types:
//   - CreateSessionRequest: body of POST /session/create
//   - FingerprintMaterial: client evidence bound to a session
//   - ChatMessageRequest: body of POST /chat/message
//
// Response types:
//   - CreateSessionResponse: issued tokens and session expiry
//   - ValidateSessionResponse: session validity
//   - MessageAcceptedResponse: staged message and where to stream it
//   - StatsResponse: connection statistics
//   - ErrorResponse: every non-streaming failure
//
// Streamed events are not defined here; they are relay.Event values written
// as one JSON object per line (NDJSON) or per SSE data field.
//
// # Error Format
//
//	{
//	    "error": {
//	        "message": "rate limit exceeded for scope ip",
//	        "type": "rate_limit_exceeded",
//	        "code": "rate_limited",
//	        "retry_after": 12
//	    }
//	}
package types
