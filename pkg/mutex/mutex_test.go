package mutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("SerializesSameKey", func(t *testing.T) {
		km := New()
		var active, maxActive int32
		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := "0xABC"
				if i%2 == 0 {
					key = "0xabc"
				}
				km.WithLock(key, func() {
					n := atomic.AddInt32(&active, 1)
					for {
						m := atomic.LoadInt32(&maxActive)
						if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&active, -1)
				})
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxActive)
		assert.Equal(t, 0, km.Size(), "entries are released after the last holder")
	})

	t.Run("DifferentKeysDoNotBlock", func(t *testing.T) {
		km := New()
		km.Lock("a")
		defer km.Unlock("a")

		done := make(chan struct{})
		go func() {
			km.WithLock("b", func() {})
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on a different key should not block")
		}
		assert.Equal(t, 1, km.Size())
	})

	t.Run("UnlockUnknownKeyIsNoop", func(t *testing.T) {
		km := New()
		km.Unlock("missing")
		assert.Equal(t, 0, km.Size())
	})
}
