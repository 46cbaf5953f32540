package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// CronAuth защищает служебные cron-эндпоинты общим секретом в Bearer
func CronAuth(secret string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			log.Errorw("Cron secret is not configured, rejecting request", "path", c.Request.URL.Path)
			res.JsonResponse(c.Writer, res.ErrorResponse{
				Error:     "Cron endpoint is not configured",
				ErrorCode: http.StatusServiceUnavailable,
			}, http.StatusServiceUnavailable)
			c.Abort()
			return
		}

		token, hasPrefix := strings.CutPrefix(c.GetHeader("Authorization"), authHeaderPrefix)
		if !hasPrefix || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			log.Warnw("Cron authentication failed", "path", c.Request.URL.Path, "client_ip", c.ClientIP())
			res.JsonResponse(c.Writer, res.ErrorResponse{
				Error:     "Unauthorized",
				ErrorCode: http.StatusUnauthorized,
			}, http.StatusUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}
