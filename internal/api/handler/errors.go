package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/service"
)

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrSubjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobInFlight),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, service.ErrNoDraft):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// abortWithError writes {"error": ...} with the mapped status.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.CtxError(c.Request.Context(), "Request failed: %v", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
