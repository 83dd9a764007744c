// Package syncmap provides a typed map guarded by a RWMutex.
package syncmap

import "sync"

// Map is a type-safe concurrent map. Reads take the shared lock, so it suits
// read-mostly registries such as per-account sessions and per-book debouncers.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

// New creates an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Load returns the value stored for key and whether it was present.
func (sm *Map[K, V]) Load(key K) (value V, ok bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	value, ok = sm.m[key]
	return
}

// Store sets the value for a key.
func (sm *Map[K, V]) Store(key K, value V) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.m[key] = value
}

// LoadOrStore returns the existing value for key if present. Otherwise it stores value.
// loaded is true when the existing value was returned.
func (sm *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	sm.mu.RLock()
	actual, loaded = sm.m[key]
	sm.mu.RUnlock()
	if loaded {
		return actual, true
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Another goroutine may have stored between the two locks.
	if actual, loaded = sm.m[key]; loaded {
		return actual, true
	}
	sm.m[key] = value
	return value, false
}

// LoadAndDelete removes key and returns the value it held.
func (sm *Map[K, V]) LoadAndDelete(key K) (value V, ok bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	value, ok = sm.m[key]
	delete(sm.m, key)
	return
}

// Delete deletes the value for a key.
func (sm *Map[K, V]) Delete(key K) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.m, key)
}

// Values returns a snapshot of the stored values in no particular order.
func (sm *Map[K, V]) Values() []V {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]V, 0, len(sm.m))
	for _, v := range sm.m {
		out = append(out, v)
	}
	return out
}

// Len returns the number of items in the map.
func (sm *Map[K, V]) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.m)
}
