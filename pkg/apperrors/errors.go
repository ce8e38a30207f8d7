// Package apperrors defines sentinel errors shared across the handler and
// service boundaries. Handlers map them onto HTTP responses; everything
// below the boundary wraps them with fmt.Errorf("...: %w", err).
package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNotReady         = errors.New("not ready")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrFileTooLarge     = errors.New("file too large")
)
