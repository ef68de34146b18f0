package errors

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrUnknownPlan      ErrorCode = "40003"

	// Authentication errors (401xx)
	ErrMissingCredential ErrorCode = "40101"
	ErrInvalidCredential ErrorCode = "40102"
	ErrAccountSuspended  ErrorCode = "40103"

	// Resource errors (404xx, 405xx)
	ErrNotFound         ErrorCode = "40401"
	ErrMethodNotAllowed ErrorCode = "40501"

	// Conflict errors (409xx)
	ErrDuplicateEmail ErrorCode = "40901"

	// Payload errors (413xx)
	ErrPayloadTooLarge ErrorCode = "41301"

	// Rate limit errors (429xx)
	ErrQuotaExceeded ErrorCode = "42901"
	ErrRateLimited   ErrorCode = "42902"

	// Server errors (500xx)
	ErrInternalServer ErrorCode = "50001"
	ErrStorageFailure ErrorCode = "50002"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error with details attached.
// The shared error values stay immutable.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		HTTPStatus: e.HTTPStatus,
	}
}

// WithMessage returns a copy of the error with a different message
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		Details:    e.Details,
		HTTPStatus: e.HTTPStatus,
	}
}

// IsClientError reports whether the error maps to a 4xx status
func IsClientError(e *APIError) bool {
	return e.HTTPStatus >= 400 && e.HTTPStatus < 500
}

// IsServerError reports whether the error maps to a 5xx status
func IsServerError(e *APIError) bool {
	return e.HTTPStatus >= 500 && e.HTTPStatus < 600
}

// Wrap converts an arbitrary error into an APIError. APIErrors pass through
// unchanged; anything else becomes an internal server error so storage and
// infrastructure failures never leak detail onto the wire.
func Wrap(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternalServerError
}

// ErrorResponse represents the wire format for every error the API returns
type ErrorResponse struct {
	Error         APIError  `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Path          string    `json:"path,omitempty"`
	Method        string    `json:"method,omitempty"`
}

// Common errors
var (
	ErrMissingCredentialError = &APIError{
		Code:       ErrMissingCredential,
		Message:    "API key required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentialError = &APIError{
		Code:       ErrInvalidCredential,
		Message:    "Invalid API key",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrAccountSuspendedError = &APIError{
		Code:       ErrAccountSuspended,
		Message:    "Account suspended",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrNotFoundError = &APIError{
		Code:       ErrNotFound,
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowedError = &APIError{
		Code:       ErrMethodNotAllowed,
		Message:    "Method not allowed",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	ErrDuplicateEmailError = &APIError{
		Code:       ErrDuplicateEmail,
		Message:    "An active account already exists for this email",
		HTTPStatus: http.StatusConflict,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrStorageFailureError = &APIError{
		Code:       ErrStorageFailure,
		Message:    "Storage temporarily unavailable",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewQuotaExceededError creates a quota error carrying the account's meter
func NewQuotaExceededError(currentUsage, monthlyLimit int64) *APIError {
	return &APIError{
		Code:    ErrQuotaExceeded,
		Message: "Monthly quota exceeded",
		Details: map[string]int64{
			"current_usage": currentUsage,
			"monthly_limit": monthlyLimit,
		},
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewUnknownPlanError creates an error for a plan ID the catalog does not sell
func NewUnknownPlanError(planID string) *APIError {
	return &APIError{
		Code:       ErrUnknownPlan,
		Message:    "Unknown plan",
		Details:    map[string]string{"plan": planID},
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewPayloadTooLargeError creates an error for an oversized upload
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:       ErrPayloadTooLarge,
		Message:    "Payload too large",
		Details:    map[string]int64{"max_bytes": limit},
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
}

// NewErrorResponse builds the wire envelope for an APIError
func NewErrorResponse(apiErr *APIError, requestID, correlationID, path, method string) *ErrorResponse {
	return &ErrorResponse{
		Error:         *apiErr,
		Timestamp:     time.Now().UTC(),
		RequestID:     requestID,
		CorrelationID: correlationID,
		Path:          path,
		Method:        method,
	}
}

// GetHTTPStatusFromCode derives the HTTP status from an error code's first
// three digits. Unparseable codes map to 500.
func GetHTTPStatusFromCode(code ErrorCode) int {
	if len(code) < 3 {
		return http.StatusInternalServerError
	}
	status, err := strconv.Atoi(string(code)[:3])
	if err != nil || status < 100 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}
