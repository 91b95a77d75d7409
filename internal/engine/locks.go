package engine

import (
	"sync"
)

// keyedMutex serializes work per (store, rule) pair. Entries are never
// removed; the key space is bounded by the store and rule population.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given key, creating it on first use.
func (km *keyedMutex) Lock(key string) {
	km.mu.Lock()
	lock, ok := km.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		km.locks[key] = lock
	}
	km.mu.Unlock()

	lock.Lock()
}

// Unlock releases the mutex for the given key.
func (km *keyedMutex) Unlock(key string) {
	km.mu.Lock()
	lock := km.locks[key]
	km.mu.Unlock()

	lock.Unlock()
}
