package handler

import (
	"net/http"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyResolved, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondWithAppError maps a service error onto a status and a stable code.
// Storage failures are reported with a generic message; the cause is logged
// by the request logger via c.Error.
func respondWithAppError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "Internal server error"
	}
	c.JSON(status, ErrorResponse{
		Message: message,
		Code:    apperr.Code(err),
		Field:   apperr.Field(err),
	})
}
