package repository

import (
	"sync"
	"time"

	"github.com/treestore-io/treestore/internal/model"
)

// ItemCache is a TTL-bounded cache of node states. Entries are
// invalidated whenever a journal record touching the node is applied,
// so readers never observe state older than the last replayed
// revision.
type ItemCache struct {
	mu      sync.RWMutex
	data    map[model.NodeID]*cacheItem
	maxSize int
	ttl     time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	node      *model.NodeState
	expiresAt time.Time
}

// NewItemCache creates a cache holding at most maxSize entries for at
// most ttl each
func NewItemCache(maxSize int, ttl time.Duration) *ItemCache {
	c := &ItemCache{
		data:     make(map[model.NodeID]*cacheItem),
		maxSize:  maxSize,
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached state of a node, if fresh
func (c *ItemCache) Get(id model.NodeID) (*model.NodeState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.data[id]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, false
	}
	return item.node.Clone(), true
}

// Set stores a node state
func (c *ItemCache) Set(node *model.NodeState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		// drop an arbitrary entry to stay bounded
		for id := range c.data {
			delete(c.data, id)
			break
		}
	}
	c.data[node.ID] = &cacheItem{
		node:      node.Clone(),
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes a node from the cache
func (c *ItemCache) Invalidate(id model.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
}

// cleanup periodically drops expired entries
func (c *ItemCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, item := range c.data {
				if now.After(item.expiresAt) {
					delete(c.data, id)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine
func (c *ItemCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}
