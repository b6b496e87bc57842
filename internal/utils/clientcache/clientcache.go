package clientcache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache keeps one SDK client per key. Concurrent misses for the same key build the client once.
type Cache[T any] struct {
	clients sync.Map
	group   singleflight.Group
}

func NewCache[T any]() *Cache[T] {
	return &Cache[T]{}
}

func (c *Cache[T]) GetOrCreate(key string, factory func() (T, error)) (T, error) {
	if cached, ok := c.clients.Load(key); ok {
		return cached.(T), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.clients.Load(key); ok {
			return cached, nil
		}

		client, err := factory()
		if err != nil {
			return nil, err
		}
		c.clients.Store(key, client)
		return client, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return v.(T), nil
}

func (c *Cache[T]) Delete(key string) {
	c.clients.Delete(key)
}

func (c *Cache[T]) Len() int {
	n := 0
	c.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
