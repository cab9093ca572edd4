package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"ccwatch/internal/monitoring"
)

// Metrics tracks per-route counters and a latency histogram.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		class := monitoring.StatusClass(c.Writer.Status())
		method := c.Request.Method

		monitoring.HTTPRequestsTotal.WithLabelValues(method, path, class).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(method, path, class).Observe(time.Since(start).Seconds())
	}
}
