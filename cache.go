package gqlpipe

import (
	"encoding/json"
	"sync"
)

// Snapshot is the serialized state of a Cache, used to hydrate a client
// created after a server render.
type Snapshot map[string]json.RawMessage

// Cache stores query results keyed by query text and variables.
type Cache interface {
	Read(key string) (json.RawMessage, bool)
	Write(key string, data json.RawMessage)
	Extract() Snapshot
	Restore(snapshot Snapshot)
}

// InMemoryCache is a Cache backed by a map. It does not normalize
// entities.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]json.RawMessage)}
}

func (c *InMemoryCache) Read(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[key]
	return data, ok
}

func (c *InMemoryCache) Write(key string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append(json.RawMessage(nil), data...)
}

// Extract copies the current contents.
func (c *InMemoryCache) Extract() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Snapshot, len(c.entries))
	for k, v := range c.entries {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Restore replaces the contents with snapshot.
func (c *InMemoryCache) Restore(snapshot Snapshot) {
	entries := make(map[string]json.RawMessage, len(snapshot))
	for k, v := range snapshot {
		entries[k] = append(json.RawMessage(nil), v...)
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}
