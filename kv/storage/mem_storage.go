package storage

import (
	"sync"
)

// MemStorage is the shared store behind a transactional map. Data is kept in memory only.
//
// Keys are split over shards by a caller supplied function. Transactional maps shard by latch stripe, so the shard
// mutexes only ever see contention from transactions which already agreed on the stripe latch; they exist to keep the
// Go maps themselves consistent.
type MemStorage[K comparable, E any] struct {
	shards  []*shard[K, E]
	shardOf func(K) int
}

type shard[K comparable, E any] struct {
	mu    sync.RWMutex
	items map[K]E
}

// NewMemStorage creates a store with n shards. shardOf must return an index in [0, n).
func NewMemStorage[K comparable, E any](n int, shardOf func(K) int) *MemStorage[K, E] {
	s := &MemStorage[K, E]{
		shards:  make([]*shard[K, E], n),
		shardOf: shardOf,
	}
	for i := range s.shards {
		s.shards[i] = &shard[K, E]{items: make(map[K]E)}
	}
	return s
}

func (s *MemStorage[K, E]) Get(key K) (E, bool) {
	sh := s.shards[s.shardOf(key)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.items[key]
	return e, ok
}

func (s *MemStorage[K, E]) Put(key K, e E) {
	sh := s.shards[s.shardOf(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.items[key] = e
}

func (s *MemStorage[K, E]) Delete(key K) {
	sh := s.shards[s.shardOf(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.items, key)
}

// Update replaces the entry of key with the result of fn, atomically with respect to other store operations. fn gets
// the current entry, if any, and returns the new one; returning false removes the key.
func (s *MemStorage[K, E]) Update(key K, fn func(e E, ok bool) (E, bool)) {
	sh := s.shards[s.shardOf(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	old, ok := sh.items[key]
	e, keep := fn(old, ok)
	if keep {
		sh.items[key] = e
	} else if ok {
		delete(sh.items, key)
	}
}

// Range calls fn for each entry until fn returns false. Each shard is read-locked while it is visited, so fn must not
// write to the store. Range is not a point-in-time view across shards.
func (s *MemStorage[K, E]) Range(fn func(key K, e E) bool) {
	for _, sh := range s.shards {
		if !sh.rangeShard(fn) {
			return
		}
	}
}

func (sh *shard[K, E]) rangeShard(fn func(key K, e E) bool) bool {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for k, e := range sh.items {
		if !fn(k, e) {
			return false
		}
	}
	return true
}

// Len returns the number of keys.
func (s *MemStorage[K, E]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
