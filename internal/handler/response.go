package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// Every handler ends in one of two calls:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//   {"error": "conflict", "code": "username_taken", "message": "username \"ada\" is already taken"}
//
// "error" is the broad class and follows the HTTP status. "code" is the
// precise reason the UI branches on. "field" names the offending input for
// validation errors so a form can highlight it.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

// maxJSONBody caps request bodies that are decoded as JSON.
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // broad class, e.g. "not_found"
	Code    string `json:"code"`            // machine-readable reason, e.g. "unknown_identifier"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending input, if any
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// writes, the headers are on the wire and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// ERROR MAPPING:
// The service layer returns errors wrapping apperror sentinels; this is the
// only place they become status codes.
//
//	ErrValidation   → 400
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	ErrUpstream     → 502
//
// errors.Is walks the whole chain, so
//
//	fmt.Errorf("service/echo: pinning x: %w", apperror.Conflict(...))
//
// still maps to 409.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Unknown error: log the detail, return a generic 500. Raw messages
		// can carry SQL, file paths or upstream bodies.
		logger.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Code:    "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		status, errorType = http.StatusBadGateway, "upstream_error"
	}

	if status >= 500 {
		logger.Error("request failed",
			slog.String("code", appErr.Code),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Code:    appErr.Code,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields are rejected so a typo in a field name is an error rather
// than a silently ignored value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("body", "request body is too large")
		}
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}

// listOptions parses ?limit=&offset=. Missing values are zero and the
// service applies its defaults.
func listOptions(r *http.Request) (repository.ListOptions, error) {
	var opts repository.ListOptions
	q := r.URL.Query()
	params := []struct {
		name string
		dst  *int
	}{
		{"limit", &opts.Limit},
		{"offset", &opts.Offset},
	}
	for _, p := range params {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed(p.name, p.name+" must be a non-negative integer")
		}
		*p.dst = n
	}
	return opts, nil
}

// expiresAt stamps a public read with the instant it goes stale on its own
// (a scheduled echo publishes, a game changes window). The response cache
// caps its TTL there. A zero t sets nothing.
func expiresAt(w http.ResponseWriter, t time.Time) {
	if !t.IsZero() {
		w.Header().Set("Expires", t.UTC().Format(http.TimeFormat))
	}
}

// readFormFile reads one multipart file field into memory, capped at max
// bytes. ok is false when the field is absent.
func readFormFile(r *http.Request, field string, max int64) (name string, data []byte, ok bool, err error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, apperror.ValidationFailed(field, "could not read uploaded file")
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		return "", nil, false, apperror.ValidationFailed(field, "could not read uploaded file")
	}
	if int64(len(data)) > max {
		return "", nil, false, apperror.ValidationFailed(field,
			fmt.Sprintf("uploaded file must be %d MB or less", max>>20))
	}
	return header.Filename, data, true, nil
}
