package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"eavkit/internal/eav"
)

// statusFor — HTTP-статус по виду ошибки движка.
func statusFor(err error) int {
	var verr *eav.ValidationError
	switch {
	case errors.As(err, &verr):
		return statusForErrors(verr.Errors)
	case errors.Is(err, eav.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, eav.ErrTypeCoercion), errors.Is(err, eav.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, eav.ErrAttributeConflict), errors.Is(err, eav.ErrAttributeInUse), errors.Is(err, eav.ErrCycleDetected):
		return http.StatusConflict
	case errors.Is(err, eav.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// 409, если есть конфликтные ошибки (unique/ref)
func statusForErrors(errs []eav.FieldError) int {
	for _, e := range errs {
		if e.Code == eav.CodeUniqueViolation || e.Code == eav.CodeRefNotFound {
			return http.StatusConflict
		}
	}
	return http.StatusUnprocessableEntity
}

// abort пишет ошибку: список FieldError для валидации, иначе {"error": "..."}.
// Внутренние детали наружу не отдаём.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusFor(err)
	var verr *eav.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(status, gin.H{"errors": verr.Errors})
	case status == http.StatusInternalServerError:
		c.AbortWithStatusJSON(status, gin.H{"error": "Internal error"})
	default:
		body := gin.H{"error": err.Error()}
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			body["hint"] = hints[0]
		}
		c.AbortWithStatusJSON(status, body)
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
