// Package filecache wraps a filebackend.Backend with a write-through,
// bounded LRU cache of file content keyed by normalized relative path.
// One Cache belongs to exactly one session's tools instance; it is
// discarded, not shared, when that session is destroyed.
package filecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/jxucoder/previewd/internal/filebackend"
)

const defaultCapacity = 50

type cachedFile struct {
	path    string
	content string
}

// Cache fronts a Backend's ReadFile/WriteFile with an LRU of file content.
type Cache struct {
	mu       sync.Mutex
	backend  filebackend.Backend
	order    *list.List // front = most recently used
	elements map[string]*list.Element
	capacity int
}

// New wraps backend in a Cache bounded at capacity entries (default 50).
func New(backend filebackend.Backend, capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache{
		backend:  backend,
		order:    list.New(),
		elements: make(map[string]*list.Element),
		capacity: capacity,
	}
}

// ReadFile returns the cached content for path if present, otherwise reads
// through to the backend and populates the cache.
func (c *Cache) ReadFile(ctx context.Context, path string) (string, error) {
	key := filebackend.NormalizePath(path)

	c.mu.Lock()
	if el, ok := c.elements[key]; ok {
		c.order.MoveToFront(el)
		content := el.Value.(*cachedFile).content
		c.mu.Unlock()
		return content, nil
	}
	c.mu.Unlock()

	content, err := c.backend.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	c.put(key, content)
	return content, nil
}

// WriteFile writes to the backend first, then updates the cache on
// success. A failed write invalidates any stale entry for path.
func (c *Cache) WriteFile(ctx context.Context, path, content string) error {
	key := filebackend.NormalizePath(path)

	if err := c.backend.WriteFile(ctx, path, content); err != nil {
		c.Invalidate(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	c.put(key, content)
	return nil
}

// Invalidate drops path's cached entry, if any.
func (c *Cache) Invalidate(path string) {
	key := filebackend.NormalizePath(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[key]; ok {
		c.order.Remove(el)
		delete(c.elements, key)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) put(key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		el.Value.(*cachedFile).content = content
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.elements, oldest.Value.(*cachedFile).path)
		}
	}

	el := c.order.PushFront(&cachedFile{path: key, content: content})
	c.elements[key] = el
}
