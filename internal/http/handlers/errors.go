package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/middleware"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// abortJSON пишет JSON и прерывает цепочку gin
func abortJSON(c *gin.Context, status int, body any) {
	res.JsonResponse(c.Writer, body, status)
	c.Abort()
}

// respondError переводит ошибку сервиса в HTTP ответ. Детали сбоев остаются в логе.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	var (
		status  int
		message string
		details any
		verrs   domain.ValidationErrors
	)
	switch {
	case errors.As(err, &verrs):
		status, message, details = http.StatusBadRequest, "Invalid request data", verrs.Fields()
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		status, message = http.StatusForbidden, "Forbidden"
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrTrialUnavailable):
		status, message = http.StatusConflict, "Trial is not available"
	case errors.Is(err, domain.ErrDuplicate):
		status, message = http.StatusConflict, "Already exists"
	case errors.Is(err, domain.ErrScanFailed):
		status, message = http.StatusInternalServerError, "Scan failed, please try again"
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		status, message = http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		status, message = http.StatusInternalServerError, "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		log.Debugw("Request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	abortJSON(c, status, res.ErrorResponse{Error: message, ErrorCode: status, Details: details})
}

// currentUser ID из middleware; RequireAuth гарантирует наличие
func currentUser(c *gin.Context, log *logger.Logger) (string, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		log.Warnw("Handler reached without authenticated user", "path", c.FullPath())
		abortJSON(c, http.StatusUnauthorized, res.ErrorResponse{Error: "Unauthorized", ErrorCode: http.StatusUnauthorized})
		return "", false
	}
	return userID, true
}
