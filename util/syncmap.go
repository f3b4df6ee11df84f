package util

import "sync"

// SyncMap is a type-safe wrapper around sync.Map, used for the
// daemon's session registry. It is read far more often than written
// (every scheduler tick ranges the session set; writes only happen on
// accept/teardown), which is exactly sync.Map's sweet spot.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

// NewSyncMap returns an empty SyncMap.
func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{}
}

// Store sets the value for a key.
func (s *SyncMap[K, V]) Store(key K, value V) {
	s.m.Store(key, value)
}

// Load returns the value for a key and whether it was present.
func (s *SyncMap[K, V]) Load(key K) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Delete removes a key.
func (s *SyncMap[K, V]) Delete(key K) {
	s.m.Delete(key)
}

// Range calls f for each key/value pair until f returns false.
func (s *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	s.m.Range(func(k, v interface{}) bool {
		return f(k.(K), v.(V))
	})
}

// Len returns the number of entries. O(n); only used by tests, never
// on the hot relay path.
func (s *SyncMap[K, V]) Len() int {
	n := 0
	s.m.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
