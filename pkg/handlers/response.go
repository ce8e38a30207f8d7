package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aurelia-health/scribe-engine/pkg/apperrors"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusForError maps apperrors sentinels onto an HTTP status and a
// machine-readable error code. Anything unrecognized reads as a 500.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrNotReady):
		return http.StatusConflict, "not_completed"
	case errors.Is(err, apperrors.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, apperrors.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError writes the HTTP form of a sentinel error with a human message.
func WriteError(w http.ResponseWriter, err error, message string) error {
	status, code := statusForError(err)
	return ErrorResponse(w, status, code, message)
}

// ErrorResponse writes a machine-readable error code plus a human message.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, errorBody{Error: errorCode, Message: message})
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
