package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds performance metrics for the application
type Metrics struct {
	// Request metrics
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`

	// Response time metrics
	AverageResponseTime time.Duration `json:"average_response_time"`
	MinResponseTime     time.Duration `json:"min_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`

	// Cache metrics
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Upstream provider metrics
	UpstreamCalls       int64         `json:"upstream_calls"`
	UpstreamFailures    int64         `json:"upstream_failures"`
	AverageUpstreamTime time.Duration `json:"average_upstream_time"`
	DegradedItems       int64         `json:"degraded_items"`

	// Concurrency metrics
	ActiveRequests int64 `json:"active_requests"`
	MutexWaits     int64 `json:"mutex_waits"`

	// Internal fields for calculations
	totalResponseTime time.Duration
	totalUpstreamTime time.Duration
	mutex             sync.RWMutex
}

// MetricsCollector provides thread-safe metrics collection. Counters are
// mirrored to prometheus collectors exposed through Registry.
type MetricsCollector struct {
	metrics   *Metrics
	startTime time.Time

	registry        *prometheus.Registry
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	requestDuration prometheus.Histogram
	degradedItems   *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector with its own registry
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		metrics: &Metrics{
			MinResponseTime: time.Duration(^uint64(0) >> 1), // Max duration
		},
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_upstream_calls_total",
			Help: "Upstream provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portfolio_upstream_call_duration_seconds",
			Help:    "Upstream provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_cache_lookups_total",
			Help: "Cache lookups by namespace and result.",
		}, []string{"namespace", "result"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		degradedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_degraded_items_total",
			Help: "Per-item failures degraded to an empty value.",
		}, []string{"reason"}),
	}

	mc.registry.MustRegister(
		mc.upstreamCalls,
		mc.upstreamLatency,
		mc.cacheLookups,
		mc.requestDuration,
		mc.degradedItems,
	)

	return mc
}

// Registry returns the prometheus registry holding this collector's series
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// RecordRequest records a new request
func (mc *MetricsCollector) RecordRequest() {
	atomic.AddInt64(&mc.metrics.TotalRequests, 1)
	atomic.AddInt64(&mc.metrics.ActiveRequests, 1)
}

// RecordRequestComplete records request completion
func (mc *MetricsCollector) RecordRequestComplete(duration time.Duration, success bool) {
	atomic.AddInt64(&mc.metrics.ActiveRequests, -1)

	if success {
		atomic.AddInt64(&mc.metrics.SuccessfulRequests, 1)
	} else {
		atomic.AddInt64(&mc.metrics.FailedRequests, 1)
	}
	mc.requestDuration.Observe(duration.Seconds())

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	mc.metrics.totalResponseTime += duration

	if duration < mc.metrics.MinResponseTime {
		mc.metrics.MinResponseTime = duration
	}

	if duration > mc.metrics.MaxResponseTime {
		mc.metrics.MaxResponseTime = duration
	}

	totalRequests := atomic.LoadInt64(&mc.metrics.TotalRequests)
	if totalRequests > 0 {
		mc.metrics.AverageResponseTime = mc.metrics.totalResponseTime / time.Duration(totalRequests)
	}
}

// RecordCacheHit records a cache hit in namespace
func (mc *MetricsCollector) RecordCacheHit(namespace string) {
	atomic.AddInt64(&mc.metrics.CacheHits, 1)
	mc.cacheLookups.WithLabelValues(namespace, "hit").Inc()
}

// RecordCacheMiss records a cache miss in namespace
func (mc *MetricsCollector) RecordCacheMiss(namespace string) {
	atomic.AddInt64(&mc.metrics.CacheMisses, 1)
	mc.cacheLookups.WithLabelValues(namespace, "miss").Inc()
}

// RecordUpstreamCall records one call to an upstream provider
func (mc *MetricsCollector) RecordUpstreamCall(provider string, duration time.Duration, success bool) {
	atomic.AddInt64(&mc.metrics.UpstreamCalls, 1)

	outcome := "success"
	if !success {
		outcome = "failure"
		atomic.AddInt64(&mc.metrics.UpstreamFailures, 1)
	}
	mc.upstreamCalls.WithLabelValues(provider, outcome).Inc()
	mc.upstreamLatency.WithLabelValues(provider).Observe(duration.Seconds())

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	mc.metrics.totalUpstreamTime += duration

	totalCalls := atomic.LoadInt64(&mc.metrics.UpstreamCalls)
	if totalCalls > 0 {
		mc.metrics.AverageUpstreamTime = mc.metrics.totalUpstreamTime / time.Duration(totalCalls)
	}
}

// RecordDegraded records a per-item failure that was degraded rather than raised
func (mc *MetricsCollector) RecordDegraded(reason string) {
	atomic.AddInt64(&mc.metrics.DegradedItems, 1)
	mc.degradedItems.WithLabelValues(reason).Inc()
}

// RecordMutexWait records a mutex wait
func (mc *MetricsCollector) RecordMutexWait() {
	atomic.AddInt64(&mc.metrics.MutexWaits, 1)
}

// GetMetrics returns a copy of current metrics
func (mc *MetricsCollector) GetMetrics() *Metrics {
	mc.metrics.mutex.RLock()
	defer mc.metrics.mutex.RUnlock()

	return &Metrics{
		TotalRequests:       atomic.LoadInt64(&mc.metrics.TotalRequests),
		SuccessfulRequests:  atomic.LoadInt64(&mc.metrics.SuccessfulRequests),
		FailedRequests:      atomic.LoadInt64(&mc.metrics.FailedRequests),
		AverageResponseTime: mc.metrics.AverageResponseTime,
		MinResponseTime:     mc.metrics.MinResponseTime,
		MaxResponseTime:     mc.metrics.MaxResponseTime,
		CacheHits:           atomic.LoadInt64(&mc.metrics.CacheHits),
		CacheMisses:         atomic.LoadInt64(&mc.metrics.CacheMisses),
		UpstreamCalls:       atomic.LoadInt64(&mc.metrics.UpstreamCalls),
		UpstreamFailures:    atomic.LoadInt64(&mc.metrics.UpstreamFailures),
		AverageUpstreamTime: mc.metrics.AverageUpstreamTime,
		DegradedItems:       atomic.LoadInt64(&mc.metrics.DegradedItems),
		ActiveRequests:      atomic.LoadInt64(&mc.metrics.ActiveRequests),
		MutexWaits:          atomic.LoadInt64(&mc.metrics.MutexWaits),
	}
}

// GetUptime returns the uptime since metrics collection started
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// Reset resets the in-process counters; prometheus series are cumulative and untouched
func (mc *MetricsCollector) Reset() {
	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	atomic.StoreInt64(&mc.metrics.TotalRequests, 0)
	atomic.StoreInt64(&mc.metrics.SuccessfulRequests, 0)
	atomic.StoreInt64(&mc.metrics.FailedRequests, 0)
	atomic.StoreInt64(&mc.metrics.CacheHits, 0)
	atomic.StoreInt64(&mc.metrics.CacheMisses, 0)
	atomic.StoreInt64(&mc.metrics.UpstreamCalls, 0)
	atomic.StoreInt64(&mc.metrics.UpstreamFailures, 0)
	atomic.StoreInt64(&mc.metrics.DegradedItems, 0)
	atomic.StoreInt64(&mc.metrics.ActiveRequests, 0)
	atomic.StoreInt64(&mc.metrics.MutexWaits, 0)

	mc.metrics.AverageResponseTime = 0
	mc.metrics.MinResponseTime = time.Duration(^uint64(0) >> 1)
	mc.metrics.MaxResponseTime = 0
	mc.metrics.AverageUpstreamTime = 0
	mc.metrics.totalResponseTime = 0
	mc.metrics.totalUpstreamTime = 0

	mc.startTime = time.Now()
}

// GetCacheHitRatio returns the cache hit ratio as a percentage
func (mc *MetricsCollector) GetCacheHitRatio() float64 {
	hits := atomic.LoadInt64(&mc.metrics.CacheHits)
	misses := atomic.LoadInt64(&mc.metrics.CacheMisses)
	total := hits + misses

	if total == 0 {
		return 0.0
	}

	return float64(hits) / float64(total) * 100.0
}

// GetSuccessRate returns the success rate as a percentage
func (mc *MetricsCollector) GetSuccessRate() float64 {
	successful := atomic.LoadInt64(&mc.metrics.SuccessfulRequests)
	total := atomic.LoadInt64(&mc.metrics.TotalRequests)

	if total == 0 {
		return 0.0
	}

	return float64(successful) / float64(total) * 100.0
}
