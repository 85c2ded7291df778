// Package apperr defines the semantic error taxonomy shared by every
// component so the command surface can map failures to HTTP status codes
// without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrAuthRequired      = errors.New("auth required")
	ErrCredentialExpired = errors.New("credential expired")
	ErrTransportTransient = errors.New("transport transient error")
	ErrTransportPermanent = errors.New("transport permanent error")
	ErrParse             = errors.New("parse error")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrBusy              = errors.New("busy")
	ErrNotFound          = errors.New("not found")
	ErrStorage           = errors.New("storage error")
	ErrCancelled         = errors.New("cancelled")
)

// Wrap attaches context to a sentinel error while keeping it matchable by errors.Is.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
