// Package apperror defines the domain error taxonomy shared by every layer.
//
// Services and repositories return *AppError values wrapping one of the
// sentinels below. Handlers translate the sentinel into an HTTP status with
// errors.Is, so nothing below the handler layer knows about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("Validation Error")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAccessDenied       = errors.New("access denied")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrRateLimited        = errors.New("rate limited")
)

// DenyReason says which access check failed. It is for logs only and is
// never written to a response.
type DenyReason string

const (
	DenyInvalidToken      DenyReason = "invalid_token"
	DenyStaleToken        DenyReason = "stale_token"
	DenyPaymentIncomplete DenyReason = "payment_incomplete"
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Detail  string // Optional: internal detail for logs, never sent to clients
	Cause   error  // Optional: underlying infrastructure error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Unauthorized is returned when credentials are missing or wrong.
// The optional detail lets the handler add hints such as needsVerification.
func Unauthorized(message, detail string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
		Detail:  detail,
	}
}

// AccessDenied builds the uniform denial used by access verification.
// The reason is kept in Detail so it reaches the logs but not the client.
func AccessDenied(reason DenyReason) *AppError {
	return &AppError{
		Err:     ErrAccessDenied,
		Message: "access denied",
		Detail:  string(reason),
	}
}

// Reason extracts the DenyReason from an access-denied error, or "".
func Reason(err error) DenyReason {
	var appErr *AppError
	if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrAccessDenied) {
		return DenyReason(appErr.Detail)
	}
	return ""
}

func GatewayUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrGatewayUnavailable,
		Message: "payment provider unavailable",
		Detail:  op,
		Cause:   cause,
	}
}

func StoreUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStoreUnavailable,
		Message: "store unavailable",
		Detail:  op,
		Cause:   cause,
	}
}

func InvalidSignature(cause error) *AppError {
	return &AppError{
		Err:     ErrInvalidSignature,
		Message: "invalid webhook signature",
		Cause:   cause,
	}
}

// RateLimited is returned to a client that has used up its request budget.
func RateLimited() *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "too many requests, please try again later",
	}
}
