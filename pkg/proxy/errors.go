package proxy

import (
	"errors"
	"math"
	"time"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/limits/ratelimit"
	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/security/validation"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/upstream"
)

// HandleError converts an error from the session, limiter, breaker, relay
// or upstream layers into the JSON error body sent to the client.
// Unknown errors become a generic 500 so internal details never leak.
//
// Example usage:
//
//	if err != nil {
//	    WriteErrorResponse(w, HandleError(err))
//	    return
//	}
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	var valErr *validation.Error
	if errors.As(err, &valErr) {
		return types.NewInvalidRequestError(valErr.Error(), valErr.Field, types.CodeInvalidValue)
	}

	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		return types.NewRateLimitError(
			"Too many requests. Please slow down.",
			retrySeconds(limitErr.RetryAfter()),
		)
	}

	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		return types.NewServiceUnavailableError(
			"The assistant is temporarily unavailable. Please try again shortly.",
			types.CodeUpstreamUnavailable,
			retrySeconds(openErr.RetryAfter),
		)
	}

	switch {
	case errors.Is(err, session.ErrFingerprintMismatch):
		return types.NewAuthenticationError(
			"Session no longer matches this client and has been terminated.",
			types.CodeFingerprintMismatch,
		)
	case errors.Is(err, session.ErrInvalidSession):
		return types.NewAuthenticationError("Session is invalid or expired.", types.CodeInvalidSession)
	case errors.Is(err, session.ErrOriginRejected):
		return types.NewErrorResponse(
			"Origin is not allowed to use this service.",
			types.ErrorTypePermissionDenied,
			"origin_domain",
			types.CodeOriginRejected,
		)
	case errors.Is(err, relay.ErrSessionBusy):
		return types.NewErrorResponse(
			"A message is already being processed for this session.",
			types.ErrorTypeConflict,
			"",
			types.CodeSessionBusy,
		)
	case errors.Is(err, relay.ErrNoPendingExchange):
		return types.NewErrorResponse(
			"No pending message for this session.",
			types.ErrorTypeNotFound,
			"",
			types.CodeNoPendingMessage,
		)
	case errors.Is(err, relay.ErrTooManyConnections):
		return types.NewServiceUnavailableError(
			"Server is at capacity. Please try again shortly.",
			types.CodeTooManyConnections,
			1,
		)
	case errors.Is(err, breaker.ErrOpen):
		return types.NewServiceUnavailableError(
			"The assistant is temporarily unavailable. Please try again shortly.",
			types.CodeUpstreamUnavailable,
			0,
		)
	}

	var timeoutErr *upstream.TimeoutError
	if errors.As(err, &timeoutErr) {
		return types.NewGatewayTimeoutError("The assistant did not respond in time.")
	}

	if upstream.IsFailure(err) {
		return types.NewServiceUnavailableError(
			"The assistant is temporarily unavailable.",
			types.CodeUpstreamUnavailable,
			0,
		)
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}

// retrySeconds rounds a backoff hint up to whole seconds, never below one.
func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
