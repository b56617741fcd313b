// Package handlers provides the HTTP endpoint handlers of the relay.
//
// # Endpoints
//
// Session lifecycle (SessionHandler):
//   - POST /session/create: issue a session and its token pair for an
//     allow-listed origin; the client token is also set as a cookie
//   - GET /session/validate: check the presented client token
//   - DELETE /session/destroy: terminate the session and clear the cookie
//
// Chat (ChatHandler):
//   - POST /chat/message: validate, authenticate and rate limit a message,
//     then either relay it inline as NDJSON ("stream": true) or stage it
//     and answer 202 with the stream URL
//   - GET /chat/stream/{session_id}: claim the staged message and relay it
//     as Server-Sent Events
//
// Operations (StatsHandler):
//   - GET /chat/stats: connection, pending, breaker and session counters
//
// # Request Flow
//
// Every chat request runs the cheapest checks first:
//
//  1. Decode the JSON body and check required fields
//  2. Validate message content (length, markup and SQL probes)
//  3. Validate the client token and fingerprint
//  4. Score the request for anomalies (may terminate the session)
//  5. Apply the IP, session and domain rate limits
//  6. Hand the message to the relay
//
// # Error Handling
//
// Failures before the stream starts are JSON error bodies:
//
//	{
//	  "error": {
//	    "message": "Session is invalid or expired.",
//	    "type": "authentication_error",
//	    "code": "invalid_session"
//	  }
//	}
//
// Once the first event is written the status is committed, so upstream
// failures arrive as a terminal {"type":"error"} event instead.
package handlers
