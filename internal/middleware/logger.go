package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ccwatch/internal/logging"
)

// RequestLogger logs every request with latency and outcome.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		extras := log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(latency),
			"method":     method,
			"path":       path,
			"user_agent": c.Request.UserAgent(),
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
