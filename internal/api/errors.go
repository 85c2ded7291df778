package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailengine/internal/apperr"
)

// respondErr maps a sentinel from apperr to an HTTP status the way
// SPEC_FULL.md §7 assigns semantic kinds to responses, and aborts the
// context, mirroring AuthMiddleware's check/JSON/Abort shape.
func respondErr(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, gin.H{"error": err.Error()})
	c.Abort()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrAuthRequired), errors.Is(err, apperr.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, apperr.ErrTransportTransient), errors.Is(err, apperr.ErrTransportPermanent):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
