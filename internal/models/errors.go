package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeAuthentication      ErrorType = "authentication"
	ErrorTypeAuthorization       ErrorType = "authorization"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeInsufficientCredits ErrorType = "insufficient_credits"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeRateLimit           ErrorType = "rate_limit"
	ErrorTypeProvider            ErrorType = "provider"
	ErrorTypeCircuitBreaker      ErrorType = "circuit_breaker"
	ErrorTypePersistence         ErrorType = "persistence"
	ErrorTypeInternal            ErrorType = "internal"
)

// Ledger errors. Callers match them with errors.Is / errors.As.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrBalanceNotFound     = errors.New("credit balance not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownOperation    = errors.New("unknown operation type")
	ErrUnknownTier         = errors.New("unknown subscription tier")
	ErrPersistence         = errors.New("persistence failure")

	ErrInvalidReservation  = errors.New("invalid reservation")
	ErrReservationNotFound = fmt.Errorf("%w: transaction not found", ErrInvalidReservation)
	ErrReservationNotOwned = fmt.Errorf("%w: transaction belongs to another user", ErrInvalidReservation)
	ErrReservationSettled  = fmt.Errorf("%w: transaction is not a pending reservation", ErrInvalidReservation)
)

// InsufficientCreditsError carries the numbers a caller needs to explain the rejection.
type InsufficientCreditsError struct {
	Operation OperationType
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: required=%d, available=%d", e.Operation, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// PersistenceError wraps a store failure. The ledger never retries; callers may retry the whole
// reserve/finalize cycle because a failed transaction leaves no partial state.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType      `json:"type"`
	Message    string         `json:"message"`
	Code       string         `json:"code,omitzero"`
	StatusCode int            `json:"-"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeProvider:
		return http.StatusBadGateway
	case ErrorTypeCircuitBreaker, ErrorTypePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewProviderError creates a provider error
func NewProviderError(provider, message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProvider,
		Message:    fmt.Sprintf("provider %s error: %s", provider, message),
		Code:       fmt.Sprintf("PROVIDER_%s_ERROR", provider),
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewCircuitBreakerError creates a circuit breaker error
func NewCircuitBreakerError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeCircuitBreaker,
		Message:    fmt.Sprintf("service %s is currently unavailable (circuit breaker open)", service),
		Code:       "CIRCUIT_BREAKER_OPEN",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    "internal server error",
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ToAppError maps ledger and service errors onto the HTTP-facing error shape.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var insufficient *InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		return &AppError{
			Type:    ErrorTypeInsufficientCredits,
			Message: "insufficient credits",
			Code:    "INSUFFICIENT_CREDITS",
			Details: map[string]any{
				"operation": insufficient.Operation,
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
			Cause: err,
		}
	case errors.Is(err, ErrBalanceNotFound):
		return &AppError{Type: ErrorTypeNotFound, Message: "credit balance not found", Code: "BALANCE_NOT_FOUND", Cause: err}
	case errors.Is(err, ErrReservationNotOwned):
		return &AppError{Type: ErrorTypeAuthorization, Message: "reservation belongs to another user", Code: "RESERVATION_NOT_OWNED", Cause: err}
	case errors.Is(err, ErrReservationNotFound):
		return &AppError{Type: ErrorTypeNotFound, Message: "reservation not found", Code: "RESERVATION_NOT_FOUND", Cause: err}
	case errors.Is(err, ErrInvalidReservation):
		return &AppError{Type: ErrorTypeConflict, Message: "reservation is not pending", Code: "INVALID_RESERVATION", Cause: err}
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrUnknownTier), errors.Is(err, ErrInvalidInput):
		return &AppError{Type: ErrorTypeValidation, Message: err.Error(), Cause: err}
	case errors.Is(err, ErrPersistence):
		return &AppError{Type: ErrorTypePersistence, Message: "credit store unavailable", Code: "PERSISTENCE_FAILURE", Retryable: true, Cause: err}
	default:
		return NewInternalError("an unexpected error occurred", err)
	}
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	appErr := ToAppError(err)
	if appErr == nil {
		return nil
	}
	return &AppError{
		Type:       appErr.Type,
		Message:    appErr.Message,
		Code:       appErr.Code,
		StatusCode: appErr.GetStatusCode(),
		Retryable:  appErr.Retryable,
		Details:    appErr.Details,
	}
}
