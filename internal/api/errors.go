package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"go.uber.org/zap"
)

// statusFor maps a service error onto an HTTP status. Unauthorized and
// PermissionDenied are both 403; NotFound stays 404 so an unauthorized
// company never reaches the point of learning whether a room exists.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dataroom.ErrUnauthorized), errors.Is(err, dataroom.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, dataroom.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dataroom.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, dataroom.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, dataroom.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case dataroom.IsLinkFailure(err):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ..., "code": ...}. Validation messages are
// returned as is; server-side failures are logged and reported generically.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	body := gin.H{"code": dataroom.Reason(err)}

	switch status {
	case http.StatusBadRequest:
		body["error"] = err.Error()
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		logger.Error(op+" failed", zap.Error(err))
		body["error"] = op + " failed"
	default:
		body["error"] = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "INVALID_INPUT"})
}
