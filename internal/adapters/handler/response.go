// Package handler implements the HTTP surface of the handoff engine
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"handoff-engine/internal/core/domain"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// NewErrorResponse creates an error body
func NewErrorResponse(code domain.Code, message string) ErrorResponse {
	return ErrorResponse{Code: code, Message: message}
}

// statusFor maps an error code to its HTTP status
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidStatus, domain.CodeAlreadyClaimed, domain.CodeClaimFailed,
		domain.CodeAtCapacity, domain.CodeNotOnline, domain.CodeHandoffDisabled:
		return http.StatusConflict
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {code, message}. Untyped errors are logged and
// reported as INTERNAL_ERROR without their text.
func respondError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		slog.Error("Request failed",
			"error", err,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			NewErrorResponse(domain.CodeInternal, "internal error"))
		return
	}
	c.AbortWithStatusJSON(statusFor(de.Code), NewErrorResponse(de.Code, de.Message))
}

// BadRequestResponse aborts with VALIDATION_ERROR
func BadRequestResponse(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse(domain.CodeValidation, message))
}
