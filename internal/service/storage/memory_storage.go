package storage

import (
	"sync"
	"time"
)

// MemoryStorage - universal in-memory object storage
// K - key type, V - stored object type
type MemoryStorage[K comparable, V any] struct {
	data    map[K]V
	mutex   sync.RWMutex
	arrived map[K]time.Time
	now     func() time.Time
}

// NewMemoryStorage creates a new storage
func NewMemoryStorage[K comparable, V any]() *MemoryStorage[K, V] {
	return NewMemoryStorageWithClock[K, V](time.Now)
}

// NewMemoryStorageWithClock creates a storage stamping arrivals with now
func NewMemoryStorageWithClock[K comparable, V any](now func() time.Time) *MemoryStorage[K, V] {
	return &MemoryStorage[K, V]{
		data:    make(map[K]V),
		arrived: make(map[K]time.Time),
		now:     now,
	}
}

// Set adds or updates an object
func (s *MemoryStorage[K, V]) Set(key K, value V) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.data[key] = value
	s.arrived[key] = s.now()
}

// Get returns an object by key
func (s *MemoryStorage[K, V]) Get(key K) (V, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.data[key]
	return value, exists
}

// Delete removes an object by key
func (s *MemoryStorage[K, V]) Delete(key K) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.data[key]; !exists {
		return false
	}

	delete(s.data, key)
	delete(s.arrived, key)
	return true
}

// Replace swaps the whole content for values in one step
func (s *MemoryStorage[K, V]) Replace(values map[K]V) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	s.data = make(map[K]V, len(values))
	s.arrived = make(map[K]time.Time, len(values))
	for k, v := range values {
		s.data[k] = v
		s.arrived[k] = now
	}
}

// ArrivedAt returns when the entry for key was last written
func (s *MemoryStorage[K, V]) ArrivedAt(key K) (time.Time, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, ok := s.arrived[key]
	return t, ok
}

// GetAllValues returns all values as a slice
func (s *MemoryStorage[K, V]) GetAllValues() []V {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]V, 0, len(s.data))
	for _, v := range s.data {
		result = append(result, v)
	}
	return result
}

// ForEach executes a function for each object
func (s *MemoryStorage[K, V]) ForEach(fn func(key K, value V) bool) {
	// Copy data under lock for subsequent processing
	s.mutex.RLock()
	items := make(map[K]V, len(s.data))
	for k, v := range s.data {
		items[k] = v
	}
	s.mutex.RUnlock()

	// Process copied data without locking
	for k, v := range items {
		if !fn(k, v) {
			break
		}
	}
}

// Count returns the number of objects
func (s *MemoryStorage[K, V]) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.data)
}
