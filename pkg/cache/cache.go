package cache

import (
	"strings"
	"sync"
	"time"
)

// Entry is a cached payload with its absolute expiry.
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// Namespace is a thread-safe keyed TTL store. Keys are lowercase-normalized,
// expired entries behave as misses and are evicted on read.
type Namespace[T any] struct {
	name  string
	ttl   time.Duration
	data  map[string]Entry[T]
	mutex sync.RWMutex
	now   func() time.Time
}

// NewNamespace creates a namespace whose entries live for ttl by default
func NewNamespace[T any](name string, ttl time.Duration) *Namespace[T] {
	return &Namespace[T]{
		name: name,
		ttl:  ttl,
		data: make(map[string]Entry[T]),
		now:  time.Now,
	}
}

// WithClock replaces the time source, used by tests to move time forward.
func (n *Namespace[T]) WithClock(now func() time.Time) *Namespace[T] {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.now = now
	return n
}

// Key joins parts into a normalized composite key.
func Key(parts ...string) string {
	return strings.ToLower(strings.Join(parts, "|"))
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Name returns the namespace name
func (n *Namespace[T]) Name() string {
	return n.name
}

// TTL returns the default time-to-live
func (n *Namespace[T]) TTL() time.Duration {
	return n.ttl
}

// Get returns the value for key if present and not expired. An expired
// entry is removed before reporting the miss.
func (n *Namespace[T]) Get(key string) (T, bool) {
	key = normalize(key)

	n.mutex.RLock()
	entry, exists := n.data[key]
	now := n.now()
	n.mutex.RUnlock()

	var zero T
	if !exists {
		return zero, false
	}

	if !now.Before(entry.ExpiresAt) {
		n.mutex.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if current, ok := n.data[key]; ok && !n.now().Before(current.ExpiresAt) {
			delete(n.data, key)
		}
		n.mutex.Unlock()
		return zero, false
	}

	return entry.Value, true
}

// Set stores value under key with the namespace default TTL
func (n *Namespace[T]) Set(key string, value T) {
	n.SetWithTTL(key, value, n.ttl)
}

// SetWithTTL stores value under key with an explicit TTL
func (n *Namespace[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.data[normalize(key)] = Entry[T]{
		Value:     value,
		ExpiresAt: n.now().Add(ttl),
	}
}

// Invalidate removes the whole entry for key
func (n *Namespace[T]) Invalidate(key string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	delete(n.data, normalize(key))
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (n *Namespace[T]) InvalidatePrefix(prefix string) int {
	prefix = normalize(prefix)

	n.mutex.Lock()
	defer n.mutex.Unlock()

	removed := 0
	for key := range n.data {
		if strings.HasPrefix(key, prefix) {
			delete(n.data, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries
func (n *Namespace[T]) Clear() {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.data = make(map[string]Entry[T])
}

// Len returns the number of stored entries, expired or not
func (n *Namespace[T]) Len() int {
	n.mutex.RLock()
	defer n.mutex.RUnlock()

	return len(n.data)
}

// Sweep removes every expired entry and reports how many were dropped
func (n *Namespace[T]) Sweep() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	now := n.now()
	removed := 0
	for key, entry := range n.data {
		if !now.Before(entry.ExpiresAt) {
			delete(n.data, key)
			removed++
		}
	}
	return removed
}
