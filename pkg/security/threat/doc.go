// Package threat scores session behavior and message content for abuse.
//
// Scorer keeps a small profile per session and a creation history per IP
// and adds weighted indicators:
//
//	ip_change               +30
//	user_agent_change       +20
//	rapid_session_creation  +40  (more than 5 sessions from the IP in 1h)
//	high_message_frequency  +25  (more than 100 messages in 1h)
//	long_session_duration   +15  (session older than 48h)
//
// A score above 50 is logged as suspicious. Above 75 the session is
// terminated through the Terminator.
//
// Inspect runs bot and spam heuristics over a message. Its report is
// advisory and only feeds logs and metrics.
package threat
