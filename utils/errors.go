package utils

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func NewAPIErrorWithDetails(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidRequest     = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrUnauthorized       = NewAPIError(http.StatusUnauthorized, "Unauthorized")
	ErrForbidden          = NewAPIError(http.StatusForbidden, "Forbidden")
	ErrNotFound           = NewAPIError(http.StatusNotFound, "Resource not found")
	ErrConflict           = NewAPIError(http.StatusConflict, "Resource conflict")
	ErrTooManyRequests    = NewAPIError(http.StatusTooManyRequests, "Too many requests")
	ErrInternalServer     = NewAPIError(http.StatusInternalServerError, "Internal server error")
	ErrServiceUnavailable = NewAPIError(http.StatusServiceUnavailable, "Service unavailable")
	ErrGatewayTimeout     = NewAPIError(http.StatusGatewayTimeout, "Gateway timeout")
)

// Authorization validation rejections. Terminal: the client must obtain a
// fresh signed authorization, retrying the same one can never succeed.
var (
	ErrAuthorizationExpired   = NewAPIError(http.StatusBadRequest, "Authorization expired")
	ErrAuthorizationNotActive = NewAPIError(http.StatusBadRequest, "Authorization not yet valid")
	ErrMalformedSignature     = NewAPIError(http.StatusBadRequest, "Malformed authorization signature")
	ErrSignatureMismatch      = NewAPIError(http.StatusBadRequest, "Signature does not match payer")
	ErrNonceReused            = NewAPIError(http.StatusBadRequest, "Authorization nonce already used")
	ErrWrongToken             = NewAPIError(http.StatusBadRequest, "Unsupported settlement token")
	ErrMissingAuthorization   = NewAPIError(http.StatusBadRequest, "Missing transfer authorization")
	ErrInvalidAuthorization   = NewAPIError(http.StatusBadRequest, "Invalid authorization field encoding")
	ErrInvalidAmount          = NewAPIError(http.StatusBadRequest, "Invalid amount")
	ErrInvalidAddress         = NewAPIError(http.StatusBadRequest, "Invalid address")
	ErrInsufficientBalance    = NewAPIError(http.StatusBadRequest, "Insufficient token balance")
)

// Sponsorship and execution failures. Sponsorship unavailability is
// recoverable and converted into a fallback internally, never surfaced as a
// caller-visible failure on its own.
var (
	ErrSponsorshipUnavailable = NewAPIError(http.StatusServiceUnavailable, "Sponsorship unavailable")
	ErrSponsorshipTimeout     = NewAPIError(http.StatusGatewayTimeout, "Sponsorship request timed out")
	ErrExecutionFailed        = NewAPIError(http.StatusBadGateway, "Transfer execution failed")
	ErrLedgerUnavailable      = NewAPIError(http.StatusServiceUnavailable, "Authorization ledger unavailable")
)

var (
	ErrSessionNotFound   = NewAPIError(http.StatusNotFound, "Checkout session not found")
	ErrSessionNotPending = NewAPIError(http.StatusConflict, "Checkout session not pending")
	ErrSessionExpired    = NewAPIError(http.StatusConflict, "Checkout session expired")
)

var (
	ErrIdempotencyKeyRequired = NewAPIError(http.StatusBadRequest, "Idempotency-Key header required")
	ErrIdempotencyConflict    = NewAPIError(http.StatusConflict, "Idempotency key reused with different request")
	ErrIdempotencyInProgress  = NewAPIError(http.StatusConflict, "Request with this idempotency key is still in progress")
)

// SessionStateError reports a rejected transition together with the actual
// current status so the client can reconcile.
func SessionStateError(status string) *APIError {
	return NewAPIErrorWithDetails(http.StatusConflict, ErrSessionNotPending.Message, status)
}

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// WrapAPIError attaches the underlying cause to a canonical API error so the
// transport layer still maps it to the right status code.
func WrapAPIError(err error, apiErr *APIError) error {
	return NewAPIErrorWithDetails(apiErr.Code, apiErr.Message, err.Error())
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"service unavailable",
		"gateway timeout",
		"too many requests",
		"not yet mined",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errorStr, retryableErr) {
			return true
		}
	}

	return false
}

func GetHTTPStatusFromError(err error) int {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Code
	}
	if _, ok := err.(ValidationErrors); ok {
		return http.StatusBadRequest
	}

	errorStr := strings.ToLower(err.Error())
	if strings.Contains(errorStr, "not found") {
		return http.StatusNotFound
	}
	if strings.Contains(errorStr, "unauthorized") {
		return http.StatusUnauthorized
	}
	if strings.Contains(errorStr, "forbidden") {
		return http.StatusForbidden
	}
	if strings.Contains(errorStr, "timeout") {
		return http.StatusGatewayTimeout
	}
	if strings.Contains(errorStr, "rate limit") {
		return http.StatusTooManyRequests
	}
	if strings.Contains(errorStr, "unavailable") {
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}

func LogAPIError(ctx context.Context, err *APIError, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error_code"] = err.Code
	fields["error_message"] = err.Message
	fields["error_details"] = err.Details

	Error(ctx, message, fields)
}
