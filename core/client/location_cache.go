package client

import (
	"sync"
	"time"

	"github.com/pyropy/gfs/lib/cache"
	"github.com/pyropy/gfs/rpc/master"
)

type locationKey struct {
	path  string
	index int
}

// LocationCache remembers chunk placements per (path, index) for a ttl.
// Failed calls against a cached placement do not evict it.
type LocationCache struct {
	mu  sync.Mutex
	lru *cache.LRU[locationKey, master.ChunkLocations]
}

func NewLocationCache(size int, ttl time.Duration) *LocationCache {
	return &LocationCache{
		lru: cache.NewLRU[locationKey, master.ChunkLocations](size, ttl),
	}
}

func (lc *LocationCache) Get(path string, index int) (master.ChunkLocations, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.lru.Get(locationKey{path: path, index: index})
}

func (lc *LocationCache) Put(path string, locations master.ChunkLocations) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.lru.Put(locationKey{path: path, index: locations.Index}, locations)
}
