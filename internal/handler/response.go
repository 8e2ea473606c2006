package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//   {"error": "access_denied", "message": "access denied"}
//
// The frontend can always rely on those two fields, whatever the status.
// Validation errors add "field"; a login refused for an unverified email
// adds "needsVerification": true.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/service"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error             string `json:"error"`                       // Machine-readable error type (e.g., "not_found")
	Message           string `json:"message"`                     // Human-readable description
	Field             string `json:"field,omitempty"`             // Offending input, for validation errors
	NeedsVerification bool   `json:"needsVerification,omitempty"` // Login refused until the email is verified
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body. Once Encode writes,
// later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// decodeJSON reads a JSON body into dst. A malformed body is a validation
// error so it flows through writeError like any other.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// errorStatus maps a domain error to its HTTP status and error type.
//
// ERROR MAPPING:
// The service layer returns apperror sentinels and never sees HTTP. This
// is the one place they become status codes. errors.Is walks the whole
// chain, so wrapped errors map the same as bare ones.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, apperror.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "payment_unavailable"
	case errors.Is(err, apperror.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, apperror.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError is writeError for middleware outside this package.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err)
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// Access denials are uniform: the reason lives in AppError.Detail for the
// logs and never reaches the client. Unavailable stores and gateways get a
// Retry-After so clients back off instead of hammering.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Unknown error: NEVER expose internal details to the client.
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, errorType := errorStatus(err)
	resp := ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		resp.Field = appErr.Field
	case errors.Is(err, apperror.ErrUnauthorized):
		resp.NeedsVerification = appErr.Detail == service.DetailNeedsVerification
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
	case status == http.StatusInternalServerError:
		resp.Message = "An internal error occurred"
	}

	writeJSON(w, status, resp)
}
