package middleware

import (
	"strconv"
	"time"

	"pulsechain-portfolio-api/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// TimingMiddleware adds response time headers. Headers are written before
// the body, so the values are set from a wrapped writer on first write.
func TimingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: startTime}
		c.Next()
	}
}

type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	written bool
}

func (w *timingWriter) stamp() {
	if w.written {
		return
	}
	w.written = true
	duration := time.Since(w.start)
	w.Header().Set("X-Response-Time", duration.String())
	w.Header().Set("X-Response-Time-Ms", strconv.FormatInt(duration.Milliseconds(), 10))
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(data []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(data)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

// ConcurrencyMiddleware reports the number of in-flight requests
func ConcurrencyMiddleware(metricsCollector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		activeRequests := metricsCollector.GetMetrics().ActiveRequests
		c.Header("X-Active-Requests", strconv.FormatInt(activeRequests, 10))

		c.Next()
	}
}
