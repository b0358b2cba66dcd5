package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTokenBucket(t *testing.T) {
	t.Run("ExhaustThenWait", func(t *testing.T) {
		clock := newClock()
		tb := NewWithClock(DefaultConfig(), clock.Now)

		for i := 0; i < 30; i++ {
			require.True(t, tb.ConsumeToken(), "token %d should be available", i)
		}
		assert.False(t, tb.CanMakeRequest())
		assert.False(t, tb.ConsumeToken())
		assert.Equal(t, time.Millisecond, tb.WaitTime())

		clock.Advance(time.Millisecond)
		assert.True(t, tb.CanMakeRequest())
		assert.Equal(t, time.Duration(0), tb.WaitTime())
	})

	t.Run("FractionalTokenAdmits", func(t *testing.T) {
		clock := newClock()
		tb := NewWithClock(DefaultConfig(), clock.Now)
		for tb.ConsumeToken() {
		}

		clock.Advance(time.Second)
		assert.Equal(t, 0.5, tb.Tokens())
		assert.True(t, tb.CanMakeRequest())
		assert.Equal(t, time.Duration(0), tb.WaitTime())

		require.True(t, tb.ConsumeToken())
		assert.Equal(t, -0.5, tb.Tokens())
		assert.False(t, tb.CanMakeRequest())
		assert.Equal(t, 1001*time.Millisecond, tb.WaitTime())

		clock.Advance(time.Second)
		assert.False(t, tb.CanMakeRequest(), "balance is exactly zero")

		clock.Advance(time.Millisecond)
		assert.True(t, tb.CanMakeRequest())
	})

	t.Run("FullRefillInSixtySeconds", func(t *testing.T) {
		clock := newClock()
		tb := NewWithClock(DefaultConfig(), clock.Now)
		for tb.ConsumeToken() {
		}

		clock.Advance(60 * time.Second)
		assert.Equal(t, 30.0, tb.Tokens())

		clock.Advance(time.Hour)
		assert.Equal(t, 30.0, tb.Tokens(), "refill is capped at capacity")
	})

	t.Run("CooldownOverridesRefill", func(t *testing.T) {
		clock := newClock()
		tb := NewWithClock(Config{Capacity: 30, RefillRate: 100, Cooldown: 60 * time.Second}, clock.Now)

		tb.HandleRateLimit()
		assert.False(t, tb.CanMakeRequest())
		assert.Equal(t, 60*time.Second, tb.WaitTime())

		// The refill rate alone would have refilled the bucket long ago.
		clock.Advance(59 * time.Second)
		assert.False(t, tb.CanMakeRequest())
		assert.False(t, tb.ConsumeToken())
		assert.Equal(t, time.Second, tb.WaitTime())

		clock.Advance(time.Second)
		assert.True(t, tb.CanMakeRequest())
		assert.True(t, tb.ConsumeToken())
	})
}

func TestClientLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewClientLimiter(Config{Capacity: 2, Cooldown: time.Minute}, time.Minute)
	engine := gin.New()
	engine.Use(limiter.Middleware())
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		engine.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "other clients have their own bucket")

	assert.Equal(t, 2, limiter.Size())
	limiter.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 2, limiter.Cleanup())
}
