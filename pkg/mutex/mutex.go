package mutex

import (
	"strings"
	"sync"
	"time"
)

// KeyedMutex serializes work per key (a wallet or token address) so
// concurrent requests for the same key do one upstream walk between them.
// Entries are reference counted and dropped when the last holder unlocks.
type KeyedMutex struct {
	entries map[string]*entry
	mapMu   sync.Mutex
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyedMutex
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Lock acquires the lock for key and returns how long the caller waited
func (km *KeyedMutex) Lock(key string) time.Duration {
	key = normalize(key)

	km.mapMu.Lock()
	e, exists := km.entries[key]
	if !exists {
		e = &entry{}
		km.entries[key] = e
	}
	e.refs++
	km.mapMu.Unlock()

	start := time.Now()
	e.mu.Lock()
	return time.Since(start)
}

// Unlock releases the lock for key
func (km *KeyedMutex) Unlock(key string) {
	key = normalize(key)

	km.mapMu.Lock()
	defer km.mapMu.Unlock()

	e, exists := km.entries[key]
	if !exists {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(km.entries, key)
	}
	e.mu.Unlock()
}

// WithLock runs fn while holding the lock for key
func (km *KeyedMutex) WithLock(key string, fn func()) time.Duration {
	waited := km.Lock(key)
	defer km.Unlock(key)
	fn()
	return waited
}

// Size returns the number of keys currently held or waited on
func (km *KeyedMutex) Size() int {
	km.mapMu.Lock()
	defer km.mapMu.Unlock()
	return len(km.entries)
}
