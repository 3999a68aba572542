// Package errors provides standardized error types for the domain layer.
// These errors provide consistent error handling across all services
// and enable proper error categorization for HTTP responses.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the request is forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrServiceUnavailable indicates the service is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrConfiguration indicates a missing or invalid provider setting
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedCombination indicates no chain adapter serves a token/network pair
	ErrUnsupportedCombination = errors.New("unsupported token/network combination")

	// ErrTransientFetch indicates a chain API call failed and may succeed later
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrWebhookDelivery indicates a webhook endpoint rejected or never received a delivery
	ErrWebhookDelivery = errors.New("webhook delivery failed")
)

// DomainError represents a domain-specific error with additional context.
// Err is the category sentinel; Cause is the underlying failure, if any.
type DomainError struct {
	Err       error
	Cause     error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap exposes both the category sentinel and the cause to errors.Is/As
func (e *DomainError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// AlreadyExistsError creates an already exists error
func AlreadyExistsError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyExists,
		Code:    fmt.Sprintf("%s_ALREADY_EXISTS", resource),
		Message: fmt.Sprintf("%s already exists", resource),
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// UnauthorizedError creates an unauthorized error
func UnauthorizedError(message string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// ForbiddenError creates a forbidden error
func ForbiddenError(message string) *DomainError {
	return &DomainError{
		Err:     ErrForbidden,
		Code:    "FORBIDDEN",
		Message: message,
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Cause:   err,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// ConflictError creates a conflict error
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    "CONFLICT",
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// ServiceUnavailableError creates a service unavailable error
func ServiceUnavailableError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   fmt.Sprintf("%s service is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Cause = err
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// ConfigurationError reports a missing provider setting such as an API key.
// It fails the one call that needed the setting, never the process.
func ConfigurationError(setting string) *DomainError {
	return &DomainError{
		Err:     ErrConfiguration,
		Code:    "CONFIGURATION_ERROR",
		Message: fmt.Sprintf("%s is not configured", setting),
		Details: map[string]interface{}{
			"setting": setting,
		},
	}
}

// UnsupportedCombinationError reports a token/network pair without a chain adapter
func UnsupportedCombinationError(token, network string) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedCombination,
		Code:    "UNSUPPORTED_COMBINATION",
		Message: fmt.Sprintf("unsupported token/network combination %s/%s", token, network),
		Details: map[string]interface{}{
			"token":   token,
			"network": network,
		},
	}
}

// TransientFetchError wraps a failed chain API call; the next poll retries it
func TransientFetchError(provider string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrTransientFetch,
		Cause:     err,
		Code:      "TRANSIENT_FETCH_ERROR",
		Message:   fmt.Sprintf("%s request failed", provider),
		Retryable: true,
	}
	if err != nil {
		de.Message = fmt.Sprintf("%s request failed: %v", provider, err)
	}
	return de
}

// WebhookDeliveryError reports a rejected or failed webhook POST. Never retried automatically.
func WebhookDeliveryError(message string, statusCode int, err error) *DomainError {
	de := &DomainError{
		Err:     ErrWebhookDelivery,
		Cause:   err,
		Code:    "WEBHOOK_DELIVERY_FAILED",
		Message: message,
	}
	if statusCode > 0 {
		de.Details = map[string]interface{}{
			"status_code": statusCode,
		}
	}
	return de
}

// Error helpers for common patterns

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidInput checks if an error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized checks if an error is an unauthorized error
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsServiceUnavailable checks if an error is a service unavailable error
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsUnsupportedCombination checks if an error is an unsupported combination error
func IsUnsupportedCombination(err error) bool {
	return errors.Is(err, ErrUnsupportedCombination)
}

// IsTransientFetch checks if an error is a transient fetch error
func IsTransientFetch(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// IsWebhookDelivery checks if an error is a webhook delivery error
func IsWebhookDelivery(err error) bool {
	return errors.Is(err, ErrWebhookDelivery)
}

// IsRetryable reports whether any domain error in the chain is marked retryable
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
