package types

import "net/http"

// ErrorResponse is the body of every non-streaming error.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error and selects the HTTP status.
	Type string `json:"type"`

	// Param is the request field that caused the error, if any.
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// RetryAfter is the number of seconds to wait before retrying.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeAuthentication indicates a missing, invalid or revoked session (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypePermissionDenied indicates a rejected origin (403).
	ErrorTypePermissionDenied = "permission_denied"

	// ErrorTypeNotFound indicates a resource was not found (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeConflict indicates the session is busy (409).
	ErrorTypeConflict = "conflict"

	// ErrorTypePayloadTooLarge indicates an oversized body (413).
	ErrorTypePayloadTooLarge = "payload_too_large"

	// ErrorTypeRateLimitExceeded indicates too many requests (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal server error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeServiceUnavailable indicates temporary unavailability (503).
	ErrorTypeServiceUnavailable = "service_unavailable"

	// ErrorTypeGatewayTimeout indicates an upstream timeout (504).
	ErrorTypeGatewayTimeout = "gateway_timeout"
)

// Error code constants.
const (
	CodeOriginRejected       = "origin_rejected"
	CodeInvalidSession       = "invalid_session"
	CodeInvalidOperatorKey   = "invalid_operator_key"
	CodeFingerprintMismatch  = "fingerprint_mismatch"
	CodeSessionBusy          = "session_busy"
	CodeRateLimited          = "rate_limited"
	CodeUpstreamUnavailable  = "upstream_unavailable"
	CodeUpstreamTimeout      = "upstream_timeout"
	CodeNoPendingMessage     = "no_pending_message"
	CodeTooManyConnections   = "too_many_connections"
	CodeMissingField         = "missing_field"
	CodeInvalidValue         = "invalid_value"
	CodeInvalidJSON          = "invalid_json"
	CodeRequestTooLarge      = "request_too_large"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeNotFound             = "not_found"
	CodeInternalError        = "internal_error"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, errorType, param, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	}
}

// NewInvalidRequestError creates an error response for invalid requests (400).
func NewInvalidRequestError(message, param, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, param, code)
}

// NewAuthenticationError creates an error response for session failures (401).
func NewAuthenticationError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeAuthentication, "", code)
}

// NewRateLimitError creates a 429 response advising a retry delay.
func NewRateLimitError(message string, retryAfter int) *ErrorResponse {
	resp := NewErrorResponse(message, ErrorTypeRateLimitExceeded, "", CodeRateLimited)
	resp.Error.RetryAfter = retryAfter
	return resp
}

// NewServerError creates an error response for internal server errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, "", CodeInternalError)
}

// NewServiceUnavailableError creates an error response for temporary unavailability (503).
func NewServiceUnavailableError(message, code string, retryAfter int) *ErrorResponse {
	resp := NewErrorResponse(message, ErrorTypeServiceUnavailable, "", code)
	resp.Error.RetryAfter = retryAfter
	return resp
}

// NewGatewayTimeoutError creates an error response for upstream timeouts (504).
func NewGatewayTimeoutError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeGatewayTimeout, "", CodeUpstreamTimeout)
}

// HTTPStatusCode returns the HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermissionDenied:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
