package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// statusFor maps a typed error onto an HTTP status
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeUsernameTaken, apperrors.CodeAmbiguousMatch:
		return http.StatusConflict
	}
	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeValidation),
		apperrors.IsErrorType(err, apperrors.ErrorTypeInvariant),
		apperrors.IsErrorType(err, apperrors.ErrorTypeMedia):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error", "code"}. Infrastructure failures are
// logged and reported with an opaque message.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error", "code": string(apperrors.CodeOf(err))})
		return
	}

	msg := err.Error()
	if b, ok := apperrors.Base(err); ok {
		msg = b.Message
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": string(apperrors.CodeOf(err))})
}

// badRequest reports a body that could not be decoded at all
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
