// Package syncmap provides a typed wrapper over sync.Map.
package syncmap

import "sync"

// Map is a concurrency-safe map. The zero value is ready to use.
type Map[K comparable, V any] struct {
	sm sync.Map
}

// Load returns the value stored for key
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	v, o := m.sm.Load(key)
	if !o {
		return value, o
	}
	return v.(V), o
}

// LoadOrStore returns the existing value for key if present; otherwise it
// stores and returns value. loaded reports which case happened.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, l := m.sm.LoadOrStore(key, value)
	return a.(V), l
}

// LoadAndDelete removes key and returns its previous value
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, l := m.sm.LoadAndDelete(key)
	if !l {
		return value, l
	}
	return v.(V), l
}

// Delete removes key
func (m *Map[K, V]) Delete(key K) {
	m.sm.Delete(key)
}

// Range calls f for each entry until f returns false
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.sm.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Len counts the entries. It walks the whole map.
func (m *Map[K, V]) Len() int {
	n := 0
	m.sm.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
