// Package indexmap is the device-wide receiver-id allocator: a single
// shared map from 32-bit receiver id to the Peer that owns it.
package indexmap

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
)

// maxAttempts bounds retries on collision. The birthday bound on a 32-bit
// space makes unbounded retry safe in practice, but a hard cap turns a
// pathological RNG or an exhausted space into a clean error instead of a
// hang.
const maxAttempts = 64

// ErrExhausted is returned when maxAttempts consecutive draws all collided.
var ErrExhausted = errors.New("indexmap: exhausted retries allocating receiver id")

// Map is the receiver-id -> owner table. The zero value is ready to use.
// Allocation uses a two-phase discipline — probe under a read lock, then
// promote to a write lock and re-check before inserting — so the
// implementation tolerates a future move to genuine concurrent access even
// though the core currently drives it from a single goroutine.
type Map[T any] struct {
	mu sync.RWMutex
	m  map[uint32]T
}

// New returns a ready-to-use Map.
func New[T any]() *Map[T] {
	return &Map[T]{m: make(map[uint32]T)}
}

// Allocate draws a fresh receiver id, associates it with owner, and returns
// it. It never returns an id currently present in the map.
func (im *Map[T]) Allocate(owner T) (uint32, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := randomID()
		if err != nil {
			return 0, err
		}

		im.mu.RLock()
		_, taken := im.m[id]
		im.mu.RUnlock()
		if taken {
			continue
		}

		im.mu.Lock()
		if _, taken := im.m[id]; taken {
			im.mu.Unlock()
			continue
		}
		im.m[id] = owner
		im.mu.Unlock()
		return id, nil
	}
	return 0, ErrExhausted
}

// Lookup returns the owner of id, if any.
func (im *Map[T]) Lookup(id uint32) (owner T, ok bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	owner, ok = im.m[id]
	return owner, ok
}

// Release removes id from the map. Releasing an id not currently allocated
// is a no-op; callers that expect it to already be present should check
// with Lookup first if they want to distinguish the cases.
func (im *Map[T]) Release(id uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()
	delete(im.m, id)
}

// Len reports the number of currently allocated ids, for metrics/tests.
func (im *Map[T]) Len() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.m)
}

func randomID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
