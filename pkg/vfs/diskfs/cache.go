package diskfs

import (
	"container/list"
	"sync"

	vfs "webvfs/pkg/vfs"
)

// CacheStats reports inode cache activity.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
	Dirty   int
}

// cacheEntry represents a cached inode.
type cacheEntry struct {
	path  string
	inode *vfs.Inode
	dirty bool
}

// inodeCache is an LRU write-back cache of decoded inodes keyed by backend
// path. Dirty entries are handed to the flush function when evicted and on
// Flush. A cache with maxSize 0 holds nothing and writes through.
type inodeCache struct {
	mu        sync.Mutex
	maxSize   int
	entries   map[string]*list.Element
	lruList   *list.List
	hitCount  uint64
	missCount uint64
	flush     func(path string, ino *vfs.Inode) error
}

func newInodeCache(maxSize int, flush func(string, *vfs.Inode) error) *inodeCache {
	return &inodeCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		lruList: list.New(),
		flush:   flush,
	}
}

// get returns a copy of the cached inode for path.
func (c *inodeCache) get(path string) (*vfs.Inode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[path]
	if !ok {
		c.missCount++
		return nil, false
	}

	c.hitCount++
	c.lruList.MoveToFront(elem)
	return elem.Value.(*cacheEntry).inode.Clone(), true
}

// put caches ino for path. Dirty entries are written back later; with a zero
// sized cache they are written immediately.
func (c *inodeCache) put(path string, ino *vfs.Inode, dirty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		if dirty {
			return c.flush(path, ino)
		}
		return nil
	}

	if elem, ok := c.entries[path]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.inode = ino.Clone()
		entry.dirty = entry.dirty || dirty
		c.lruList.MoveToFront(elem)
		return nil
	}

	for c.lruList.Len() >= c.maxSize {
		if err := c.evict(); err != nil {
			return err
		}
	}

	c.entries[path] = c.lruList.PushFront(&cacheEntry{path: path, inode: ino.Clone(), dirty: dirty})
	return nil
}

// evict removes the least recently used entry, writing it back if dirty. The
// caller holds c.mu.
func (c *inodeCache) evict() error {
	elem := c.lruList.Back()
	if elem == nil {
		return nil
	}

	entry := elem.Value.(*cacheEntry)
	if entry.dirty {
		if err := c.flush(entry.path, entry.inode); err != nil {
			return err
		}
	}

	c.lruList.Remove(elem)
	delete(c.entries, entry.path)
	return nil
}

// drop forgets path and every cached path below it without writing back.
func (c *inodeCache) drop(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p, elem := range c.entries {
		if vfs.HasPrefix(p, path) {
			c.lruList.Remove(elem)
			delete(c.entries, p)
		}
	}
}

// Flush writes every dirty entry back, stopping at the first failure.
func (c *inodeCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lruList.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if !entry.dirty {
			continue
		}
		if err := c.flush(entry.path, entry.inode); err != nil {
			return err
		}
		entry.dirty = false
	}
	return nil
}

// Stats returns cache statistics.
func (c *inodeCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Hits:    c.hitCount,
		Misses:  c.missCount,
		Entries: c.lruList.Len(),
	}
	for _, elem := range c.entries {
		if elem.Value.(*cacheEntry).dirty {
			stats.Dirty++
		}
	}
	return stats
}
