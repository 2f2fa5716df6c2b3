package models

import "time"

// Machine-readable error codes, upper-case with underscores, mapped to
// standard HTTP status codes.
const (
	ErrorCodeNotFound          = "NOT_FOUND"           // 404: Route or resource doesn't exist
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeUnauthorized      = "UNAUTHORIZED"        // 401: Authentication failed
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED" // 429: Budget exhausted
	ErrorCodeInternalError     = "INTERNAL_ERROR"      // 500: Server-side error
)

// ErrorResponse is the structured error body every endpoint returns.
// RetryAfter is only populated on rate limit denials.
type ErrorResponse struct {
	Error      string `json:"error"`                // Error type or short reason
	Message    string `json:"message"`              // Human-readable description
	Code       string `json:"code,omitempty"`       // Machine-readable error code
	RetryAfter int    `json:"retryAfter,omitempty"` // Seconds until the budget resets
}

// NewErrorResponse builds a generic error response.
func NewErrorResponse(errText, message, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:   errText,
		Message: message,
		Code:    code,
	}
}

// NewRateLimitResponse builds the 429 denial body. Exactly one of these is
// produced per denied request.
func NewRateLimitResponse(errText, message string, retryAfterSeconds int) *ErrorResponse {
	return &ErrorResponse{
		Error:      errText,
		Message:    message,
		Code:       ErrorCodeRateLimitExceeded,
		RetryAfter: retryAfterSeconds,
	}
}

// WelcomeResponse is served at the service root.
type WelcomeResponse struct {
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// APIIndexResponse describes the API surface at the version root.
type APIIndexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthCheckResponse reports liveness.
type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}
