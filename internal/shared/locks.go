package shared

import (
	"fmt"
	"sync"
)

// LocationLockKey builds the key serializing allocation passes per
// product/location pair. The ledger's reserved counters are shared mutable
// state verified by read-after-write, so two passes must never interleave
// on overlapping lots.
func LocationLockKey(productID, locationID int64) string {
	return fmt.Sprintf("alloc:product:%d:location:%d", productID, locationID)
}

// KeyedMutex provides one mutex per string key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for key.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()
	if ok {
		m.Unlock()
	}
}
