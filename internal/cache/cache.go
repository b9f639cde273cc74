// Package cache memoises decoded paths keyed by the emission scores that
// produced them.
package cache

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Entry is one decoded sequence.
type Entry struct {
	Path  []int
	Score float64
}

// PathCache defines a generic interface for caching decoded paths.
type PathCache interface {
	// Get retrieves an entry from the cache.
	Get(key uint64) (Entry, bool)
	// Put stores an entry in the cache.
	Put(key uint64, e Entry)
	// Size returns the number of items in the cache.
	Size() int
}

// Key hashes a sequence's (length, N) emission rows. Two sequences with the
// same key decode identically under a fixed transition matrix.
func Key(emissions []float64, length int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(length))
	_, _ = d.Write(buf[:])
	for _, v := range emissions {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// MapCache is a simple in-memory implementation of PathCache. When
// maxEntries is positive, inserting into a full cache evicts an arbitrary
// entry.
type MapCache struct {
	data       map[uint64]Entry
	maxEntries int
	mu         sync.RWMutex
}

func NewMapCache(maxEntries int) *MapCache {
	return &MapCache{
		data:       make(map[uint64]Entry),
		maxEntries: maxEntries,
	}
}

func (c *MapCache) Get(key uint64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if e, ok := c.data[key]; ok {
		cacheHits.Inc()
		return Entry{Path: append([]int(nil), e.Path...), Score: e.Score}, true
	}
	cacheMisses.Inc()
	return Entry{}, false
}

func (c *MapCache) Put(key uint64, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		for k := range c.data {
			delete(c.data, k)
			cacheEvictions.Inc()
			break
		}
	}
	c.data[key] = Entry{Path: append([]int(nil), e.Path...), Score: e.Score}
	cacheSize.Set(float64(len(c.data)))
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
