package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mathduel/mathduel-backend/pkg/logger"
)

// Logger HTTP 요청 로깅 미들웨어
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", c.Writer.Status(),
			"latency", latency,
			"ip", c.ClientIP(),
		}

		// 인증된 요청은 플레이어 단위로 추적한다
		if playerID, exists := c.Get("playerId"); exists {
			fields = append(fields, "playerId", playerID)
		}

		logger.Info("HTTP Request", fields...)
	}
}
