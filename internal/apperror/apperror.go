// Package apperror defines the error taxonomy shared by every layer.
//
// Each AppError wraps one sentinel (ErrNotFound, ErrConflict, ...) so callers
// can branch with errors.Is, and carries a machine-readable Code so the UI can
// tell "username taken" apart from "email taken" without parsing messages.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
)

// Machine-readable codes. These are part of the API contract.
const (
	CodeInvalidUsername    = "invalid_username"
	CodeWeakPassword       = "weak_password"
	CodePasswordMismatch   = "password_mismatch"
	CodeInvalidEmail       = "invalid_email"
	CodeInvalidInput       = "invalid_input"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnauthenticated    = "unauthenticated"
	CodeAdminRequired      = "admin_required"
	CodeUnknownIdentifier  = "unknown_identifier"
	CodeNotFound           = "not_found"
	CodeUsernameTaken      = "username_taken"
	CodeEmailTaken         = "email_taken"
	CodeAlreadyPinned      = "already_pinned"
	CodeNotPinned          = "not_pinned"
	CodeUpstreamFailure    = "upstream_failure"
	CodeSignupIncomplete   = "signup_incomplete"
)

type AppError struct {
	Err     error  // sentinel
	Code    string // machine-readable reason
	Message string // human-readable message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// CodeOf returns the Code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// NotFound hides whether the record is missing or merely not visible yet.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func UnknownIdentifier(identifier string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    CodeUnknownIdentifier,
		Message: fmt.Sprintf("no account found for %q", identifier),
		Field:   "identifier",
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeInvalidInput,
		Message: message,
		Field:   field,
	}
}

// Invalid is ValidationFailed with a specific code.
func Invalid(code, field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    code,
		Message: message,
		Field:   field,
	}
}

func Conflict(code, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    code,
		Message: message,
	}
}

func UsernameTaken(username string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    CodeUsernameTaken,
		Message: fmt.Sprintf("username %q is already taken", username),
		Field:   "username",
	}
}

func EmailTaken() *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    CodeEmailTaken,
		Message: "an account with this email already exists",
		Field:   "email",
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Code:    CodeAdminRequired,
		Message: message,
	}
}

func Unauthorized(code, message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    code,
		Message: message,
	}
}

// Upstream wraps a failure of an external collaborator. cause is kept in
// the chain for logging but never shown to clients.
func Upstream(code, message string, cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrUpstream, cause),
		Code:    code,
		Message: message,
	}
}
