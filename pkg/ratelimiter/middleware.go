package ratelimiter

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type clientBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// ClientLimiter keeps one TokenBucket per client key for inbound traffic
type ClientLimiter struct {
	buckets map[string]*clientBucket
	mutex   sync.Mutex
	cfg     Config
	idle    time.Duration
	now     func() time.Time
}

// NewClientLimiter creates a limiter that hands each client a bucket built from cfg.
// Buckets unused for idle are dropped by Cleanup.
func NewClientLimiter(cfg Config, idle time.Duration) *ClientLimiter {
	return &ClientLimiter{
		buckets: make(map[string]*clientBucket),
		cfg:     cfg,
		idle:    idle,
		now:     time.Now,
	}
}

func (cl *ClientLimiter) bucketFor(key string) *TokenBucket {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	entry, exists := cl.buckets[key]
	if !exists {
		entry = &clientBucket{bucket: NewWithClock(cl.cfg, cl.now)}
		cl.buckets[key] = entry
	}
	entry.lastSeen = cl.now()
	return entry.bucket
}

// Allow consumes a token for key
func (cl *ClientLimiter) Allow(key string) bool {
	return cl.bucketFor(key).ConsumeToken()
}

// Cleanup removes idle client buckets to bound memory
func (cl *ClientLimiter) Cleanup() int {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	now := cl.now()
	removed := 0
	for key, entry := range cl.buckets {
		if now.Sub(entry.lastSeen) > cl.idle {
			delete(cl.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked clients
func (cl *ClientLimiter) Size() int {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return len(cl.buckets)
}

// Middleware creates a Gin middleware for per-client rate limiting
func (cl *ClientLimiter) Middleware() gin.HandlerFunc {
	limit := strconv.Itoa(int(cl.cfg.Capacity))

	return func(c *gin.Context) {
		bucket := cl.bucketFor(c.ClientIP())

		if !bucket.ConsumeToken() {
			retryAfter := int(math.Ceil(bucket.WaitTime().Seconds()))

			c.Header("X-RateLimit-Limit", limit)
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests. Rate limit exceeded.",
					"details": "Retry after " + strconv.Itoa(retryAfter) + " seconds.",
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, bucket.Tokens()))))

		c.Next()
	}
}
