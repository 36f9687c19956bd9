package storage

import "time"

// Storage defines interface for any object storage
type Storage[K comparable, V any] interface {
	Set(key K, value V)
	Get(key K) (V, bool)
	Delete(key K) bool
	GetAllValues() []V
	ForEach(fn func(key K, value V) bool)
	Count() int
}

// ArrivalStorage also remembers when each entry was last written, so
// "most recently received wins" can be decided locally
type ArrivalStorage[K comparable, V any] interface {
	Storage[K, V]
	ArrivedAt(key K) (time.Time, bool)
	Replace(values map[K]V)
}

var (
	_ ArrivalStorage[string, int] = (*MemoryStorage[string, int])(nil)
	_ Storage[string, int]        = (*ShardedMemoryStorage[string, int])(nil)
)
