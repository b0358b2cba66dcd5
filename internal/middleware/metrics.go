package middleware

import (
	"time"

	"pulsechain-portfolio-api/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records every request in the collector. Responses
// below 500 count as successful.
func MetricsMiddleware(metricsCollector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		metricsCollector.RecordRequest()

		c.Next()

		metricsCollector.RecordRequestComplete(time.Since(startTime), c.Writer.Status() < 500)
	}
}
