package service

import (
	"sync"

	"parkd/internal/db"
)

// KeyLock serialises work per (site, vehicle type) pool. Entries are reference
// counted and dropped once nobody holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

func poolKey(siteID string, vt db.VehicleType) string {
	return siteID + "/" + string(vt)
}

// Lock blocks until the pool is free and returns the matching unlock.
func (k *KeyLock) Lock(siteID string, vt db.VehicleType) func() {
	key := poolKey(siteID, vt)

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
