package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// requestLogger пишет одну строку на запрос вместо gin.Logger.
// 5xx — Error с причиной, 4xx — Warn, остальное — Info.
func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "error", c.Errors.Last().Err)
		}
		switch {
		case status >= 500:
			logger.Errorw("Request failed", kv...)
		case status >= 400:
			logger.Warnw("Request rejected", kv...)
		default:
			logger.Infow("Request served", kv...)
		}
	}
}

// recovery переводит панику обработчика в 500 и пишет её в лог.
func recovery(logger *zap.SugaredLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Errorw("Handler panicked", "path", c.FullPath(), "panic", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	})
}
