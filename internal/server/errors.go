package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	goalriskdomain "github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	webhookdomain "github.com/glacestorm/crmalerts/internal/webhook/domain"
	"gorm.io/gorm"
)

type errorResponse struct {
	Error string `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "Unauthorized"}
	case isValidationError(err):
		return http.StatusBadRequest, errorResponse{Error: validationMessage(err)}
	case errors.Is(err, webhookdomain.ErrNotificationNotFound):
		return http.StatusNotFound, errorResponse{Error: "notification not found"}
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, webhookdomain.ErrInvalidRequest)
}

// validationMessage surfaces the detail joined onto a validation sentinel,
// e.g. which request fields are missing.
func validationMessage(err error) string {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return "invalid request"
	}
	var details []string
	for _, e := range joined.Unwrap() {
		if e == nil || isValidationError(e) {
			continue
		}
		details = append(details, e.Error())
	}
	if len(details) == 0 {
		return "invalid request"
	}
	return strings.Join(details, "; ")
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, _ := mapError(err)
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized", "unauthorized"
	case http.StatusBadRequest:
		return "validation_error", "invalid_request"
	case http.StatusNotFound:
		return "not_found", "not_found"
	}
	switch {
	case errors.Is(err, goalriskdomain.ErrRecipientResolving):
		return "internal_error", "recipient_resolution_failed"
	case errors.Is(err, webhookdomain.ErrDeliveryFailed):
		return "internal_error", "delivery_failed"
	default:
		return "internal_error", "internal_error"
	}
}
