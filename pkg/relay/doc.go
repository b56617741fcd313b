// Package relay forwards one chat message to the upstream and turns the
// upstream's output into an ordered event stream for the client.
//
// # Event sequence
//
// Every task that reaches the upstream produces exactly
//
//	begin, item*, (end | error)
//
// on the client sink. A begin is synthesized if the upstream does not
// send one, and a terminal error is synthesized if the upstream closes,
// times out, or fails before sending end or error. Nothing is sent after
// the first terminal event.
//
// # Reassembly
//
// The upstream body arrives in arbitrary pieces. Reassembler keeps the
// bytes after the last newline and completes the line on the next read.
// Each complete line is either a JSON envelope
//
//	{"type":"item","content":"Hel"}
//
// which is forwarded as that event, or anything else with visible text,
// which is forwarded as an item whose content is the raw line. Blank lines
// only separate events. SSE framing ("data: ...") is unwrapped first.
//
// # Concurrency
//
// A session may have one task in flight; a second Run for it fails with
// ErrSessionBusy. Every task holds a connection record that the periodic
// sweep checks for inactivity; pruning a record cancels the task's
// context, which aborts the upstream call.
//
// # Two-step streaming
//
// Browsers using EventSource cannot send a body, so POST /chat/message
// stages the message with Stage and GET /chat/stream/{session_id} picks it
// up with Claim before calling Run.
package relay
