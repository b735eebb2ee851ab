package cache

import (
	"sync"
)

// Cache is a small concurrency-safe keyed map used for in-memory registries,
// e.g. the set of currently running jobs and their cancel handles.
type Cache[T any] struct {
	cache map[string]T
	mutex sync.RWMutex
}

func New[T any]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
}

func (c *Cache[T]) Get(key string) T {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	v, ok := c.cache[key]
	if ok {
		return v
	}
	var zero T
	return zero
}

func (c *Cache[T]) Contains(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.cache[key]
	return ok
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

// Pop removes and returns the value for key, reporting whether it was present.
func (c *Cache[T]) Pop(key string) (T, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, ok := c.cache[key]
	if ok {
		delete(c.cache, key)
	}
	return v, ok
}
