package streaming

import "sync"

// syncMap is a minimal typed wrapper over sync.Map, used for the
// reason-tagged fallback counters where the key set isn't known upfront.
type syncMap[K comparable, V any] struct {
	m *sync.Map
}

func newSyncMap[K comparable, V any]() syncMap[K, V] {
	return syncMap[K, V]{m: &sync.Map{}}
}

func (s syncMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := s.m.LoadOrStore(key, value)
	return actual.(V), loaded
}

func (s syncMap[K, V]) Range(fn func(key K, value V) bool) {
	s.m.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}
