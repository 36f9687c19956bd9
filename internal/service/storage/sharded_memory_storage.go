package storage

import (
	"fmt"
	"sync"
)

// ShardedMemoryStorage - sharded object storage for keys hit by many
// goroutines at once, such as per-user sessions
type ShardedMemoryStorage[K comparable, V any] struct {
	shards     []*shardData[K, V]
	shardMask  int
	keyToShard func(K) int
}

type shardData[K comparable, V any] struct {
	data  map[K]V
	mutex sync.RWMutex
}

// NewShardedMemoryStorage creates a new sharded storage
func NewShardedMemoryStorage[K comparable, V any](shardCount int) *ShardedMemoryStorage[K, V] {
	// Round up to power of two
	realShardCount := 1
	for realShardCount < shardCount {
		realShardCount *= 2
	}

	shards := make([]*shardData[K, V], realShardCount)
	for i := range shards {
		shards[i] = &shardData[K, V]{data: make(map[K]V)}
	}

	mask := realShardCount - 1
	return &ShardedMemoryStorage[K, V]{
		shards:    shards,
		shardMask: mask,
		keyToShard: func(key K) int {
			switch k := any(key).(type) {
			case string:
				return int(fnv1a(k)) & mask
			case int:
				return k & mask
			default:
				return int(fnv1a(fmt.Sprintf("%v", key))) & mask
			}
		},
	}
}

// FNV-1a hash function
func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (s *ShardedMemoryStorage[K, V]) getShard(key K) *shardData[K, V] {
	return s.shards[s.keyToShard(key)]
}

// Set adds or updates an object
func (s *ShardedMemoryStorage[K, V]) Set(key K, value V) {
	shard := s.getShard(key)

	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	shard.data[key] = value
}

// Get returns object by key
func (s *ShardedMemoryStorage[K, V]) Get(key K) (V, bool) {
	shard := s.getShard(key)

	shard.mutex.RLock()
	defer shard.mutex.RUnlock()
	value, exists := shard.data[key]
	return value, exists
}

// GetOrCreate returns the stored value for key, building and storing one
// with create when absent. created reports whether create ran.
func (s *ShardedMemoryStorage[K, V]) GetOrCreate(key K, create func() V) (value V, created bool) {
	shard := s.getShard(key)

	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	if v, ok := shard.data[key]; ok {
		return v, false
	}
	v := create()
	shard.data[key] = v
	return v, true
}

// Delete removes an object
func (s *ShardedMemoryStorage[K, V]) Delete(key K) bool {
	shard := s.getShard(key)

	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	if _, exists := shard.data[key]; !exists {
		return false
	}
	delete(shard.data, key)
	return true
}

// Take removes and returns the object stored under key
func (s *ShardedMemoryStorage[K, V]) Take(key K) (V, bool) {
	shard := s.getShard(key)

	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	v, ok := shard.data[key]
	if ok {
		delete(shard.data, key)
	}
	return v, ok
}

// GetAllValues returns all values as a slice
func (s *ShardedMemoryStorage[K, V]) GetAllValues() []V {
	var result []V
	for _, shard := range s.shards {
		shard.mutex.RLock()
		for _, v := range shard.data {
			result = append(result, v)
		}
		shard.mutex.RUnlock()
	}
	return result
}

// ForEach executes a function for each object, shard by shard
func (s *ShardedMemoryStorage[K, V]) ForEach(fn func(key K, value V) bool) {
	for _, shard := range s.shards {
		shard.mutex.RLock()
		items := make(map[K]V, len(shard.data))
		for k, v := range shard.data {
			items[k] = v
		}
		shard.mutex.RUnlock()

		for k, v := range items {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Count returns the number of objects across all shards
func (s *ShardedMemoryStorage[K, V]) Count() int {
	count := 0
	for _, shard := range s.shards {
		shard.mutex.RLock()
		count += len(shard.data)
		shard.mutex.RUnlock()
	}
	return count
}
