package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every failure through
// writeError, so the frontend always sees the same shapes:
//
//	success: {"success": true, "message": "...", ...payload}
//	failure: {"success": false, "message": "...", "statusCode": 404}

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/lms/internal/apperror"
)

// maxBodyBytes caps request bodies; every JSON body here is a handful of
// short fields.
const maxBodyBytes = 1 << 20

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// envelope is a success body: "success" and "message" plus payload keys.
type envelope map[string]any

func ok(message string, kv ...any) envelope {
	e := envelope{"success": true, "message": message}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, isString := kv[i].(string); isString {
			e[k] = kv[i+1]
		}
	}
	return e
}

// writeJSON sets headers and status before the body; once the body starts
// header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and the message safe
// to show the client. Errors without an AppError in the chain are 500 and
// their text is never exposed.
func errorStatus(err error) (int, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal server error"
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrSignatureMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperror.ErrUpstream):
		status = http.StatusBadGateway
	}
	return status, appErr.Message
}

// writeError sends the error envelope for err.
func writeError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	writeJSON(w, status, ErrorResponse{Success: false, Message: message, StatusCode: status})
}

// respondError logs server-side failures with request context before writing
// the envelope. Client errors are not logged here; the services already
// log what matters.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if status, _ := errorStatus(err); status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}

// NotFound answers unknown routes with the error envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Message: "route " + r.URL.Path + " not found", StatusCode: http.StatusNotFound,
	})
}

// MethodNotAllowed answers a known route called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Message: r.Method + " is not allowed on " + r.URL.Path, StatusCode: http.StatusMethodNotAllowed,
	})
}
