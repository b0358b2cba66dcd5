package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	collector := NewMetricsCollector()

	t.Run("InitialState", func(t *testing.T) {
		metrics := collector.GetMetrics()
		assert.Equal(t, int64(0), metrics.TotalRequests)
		assert.Equal(t, int64(0), metrics.CacheHits)
		assert.Equal(t, int64(0), metrics.UpstreamCalls)
	})

	t.Run("RequestLifecycle", func(t *testing.T) {
		collector.RecordRequest()
		assert.Equal(t, int64(1), collector.GetMetrics().ActiveRequests)

		duration := 100 * time.Millisecond
		collector.RecordRequestComplete(duration, true)

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(1), metrics.SuccessfulRequests)
		assert.Equal(t, int64(0), metrics.ActiveRequests)
		assert.Equal(t, duration, metrics.AverageResponseTime)
		assert.Equal(t, duration, metrics.MinResponseTime)
		assert.Equal(t, duration, metrics.MaxResponseTime)
	})

	t.Run("CacheMetrics", func(t *testing.T) {
		collector.RecordCacheHit("price")
		collector.RecordCacheHit("price")
		collector.RecordCacheMiss("balance")

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(2), metrics.CacheHits)
		assert.Equal(t, int64(1), metrics.CacheMisses)
		assert.InDelta(t, 66.67, collector.GetCacheHitRatio(), 0.1)

		assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheLookups.WithLabelValues("price", "hit")))
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheLookups.WithLabelValues("balance", "miss")))
	})

	t.Run("UpstreamMetrics", func(t *testing.T) {
		duration := 50 * time.Millisecond
		collector.RecordUpstreamCall("indexed", duration, true)
		collector.RecordUpstreamCall("market", duration*2, false)

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(2), metrics.UpstreamCalls)
		assert.Equal(t, int64(1), metrics.UpstreamFailures)
		assert.Equal(t, duration*3/2, metrics.AverageUpstreamTime)
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.upstreamCalls.WithLabelValues("market", "failure")))
	})

	t.Run("Degraded", func(t *testing.T) {
		collector.RecordDegraded("price_not_found")
		assert.Equal(t, int64(1), collector.GetMetrics().DegradedItems)
	})

	t.Run("SuccessRate", func(t *testing.T) {
		collector.Reset()

		collector.RecordRequest()
		collector.RecordRequestComplete(10*time.Millisecond, true)
		collector.RecordRequest()
		collector.RecordRequestComplete(20*time.Millisecond, true)
		collector.RecordRequest()
		collector.RecordRequestComplete(30*time.Millisecond, false)

		assert.InDelta(t, 66.67, collector.GetSuccessRate(), 0.1)
	})

	t.Run("RegistryGathers", func(t *testing.T) {
		families, err := collector.Registry().Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)
	})

	t.Run("Reset", func(t *testing.T) {
		collector.Reset()

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(0), metrics.TotalRequests)
		assert.Equal(t, int64(0), metrics.CacheHits)
		assert.Equal(t, int64(0), metrics.UpstreamCalls)
	})
}
