package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNamespace(t *testing.T) {
	t.Run("GetSetNormalizesKeys", func(t *testing.T) {
		ns := NewNamespace[int]("price", time.Minute)
		ns.Set("0xABCdef", 7)

		v, ok := ns.Get("0xabcdef")
		require.True(t, ok)
		assert.Equal(t, 7, v)

		v, ok = ns.Get(" 0XABCDEF ")
		require.True(t, ok)
		assert.Equal(t, 7, v)
	})

	t.Run("ExpiredReadIsMissAndEvicts", func(t *testing.T) {
		clock := newFakeClock()
		ns := NewNamespace[string]("balance", 3*time.Minute).WithClock(clock.Now)
		ns.Set("wallet", "snapshot")

		clock.Advance(3*time.Minute - time.Second)
		_, ok := ns.Get("wallet")
		assert.True(t, ok)

		clock.Advance(time.Second)
		_, ok = ns.Get("wallet")
		assert.False(t, ok)
		assert.Equal(t, 0, ns.Len(), "expired entry should be evicted on read")
	})

	t.Run("SetWithTTL", func(t *testing.T) {
		clock := newFakeClock()
		ns := NewNamespace[int]("tx-page", 10*time.Minute).WithClock(clock.Now)
		ns.SetWithTTL("k", 1, time.Second)

		clock.Advance(2 * time.Second)
		_, ok := ns.Get("k")
		assert.False(t, ok)
	})

	t.Run("InvalidateIsWholeEntry", func(t *testing.T) {
		ns := NewNamespace[int]("price", time.Minute)
		ns.Set("a", 1)
		ns.Set("b", 2)

		ns.Invalidate("A")
		_, ok := ns.Get("a")
		assert.False(t, ok)
		_, ok = ns.Get("b")
		assert.True(t, ok)
	})

	t.Run("InvalidatePrefix", func(t *testing.T) {
		ns := NewNamespace[int]("tx-page", time.Minute)
		ns.Set(Key("0xWallet", "25", ""), 1)
		ns.Set(Key("0xWallet", "25", "cursor"), 2)
		ns.Set(Key("0xOther", "25", ""), 3)

		removed := ns.InvalidatePrefix("0xwallet|")
		assert.Equal(t, 2, removed)
		assert.Equal(t, 1, ns.Len())
	})

	t.Run("SweepRemovesOnlyExpired", func(t *testing.T) {
		clock := newFakeClock()
		ns := NewNamespace[int]("price", time.Minute).WithClock(clock.Now)
		ns.Set("old", 1)
		clock.Advance(30 * time.Second)
		ns.Set("new", 2)
		clock.Advance(31 * time.Second)

		assert.Equal(t, 1, ns.Sweep())
		assert.Equal(t, 1, ns.Len())
		_, ok := ns.Get("new")
		assert.True(t, ok)
	})

	t.Run("Clear", func(t *testing.T) {
		ns := NewNamespace[int]("price", time.Minute)
		ns.Set("a", 1)
		ns.Clear()
		assert.Equal(t, 0, ns.Len())
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		ns := NewNamespace[int]("price", time.Minute)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ns.Set("shared", i)
				ns.Get("shared")
				ns.Sweep()
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, ns.Len())
	})
}

func TestJanitor(t *testing.T) {
	clock := newFakeClock()
	prices := NewNamespace[int]("price", time.Minute).WithClock(clock.Now)
	pages := NewNamespace[string]("tx-page", time.Hour).WithClock(clock.Now)
	prices.Set("a", 1)
	pages.Set("b", "page")

	swept := map[string]int{}
	j := NewJanitor(time.Hour, prices, pages)
	j.OnSweep(func(name string, removed int) { swept[name] = removed })

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, j.SweepAll())
	assert.Equal(t, map[string]int{"price": 1, "tx-page": 0}, swept)

	j.Start()
	j.Stop()
	j.Stop()
}
