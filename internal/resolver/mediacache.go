package resolver

import (
	"sync"

	"swarmsite/internal/ratelog"
)

type mediaEntry struct {
	Data        []byte
	ContentType string
	Length      int64
}

type mediaItem struct {
	key  string
	ent  mediaEntry
	prev *mediaItem
	next *mediaItem
}

// mediaCache is a byte-bounded LRU of large media bodies keyed by request
// URL. It is read-through only: a miss always falls back to a round trip.
type mediaCache struct {
	maxBytes int64

	mu    sync.Mutex
	items map[string]*mediaItem
	head  *mediaItem
	tail  *mediaItem
	total int64

	overflowLog *ratelog.Logger
}

func newMediaCache(maxBytes int64, overflowLog *ratelog.Logger) *mediaCache {
	return &mediaCache{maxBytes: maxBytes, items: map[string]*mediaItem{}, overflowLog: overflowLog}
}

func (c *mediaCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *mediaCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *mediaCache) Get(key string) (mediaEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return mediaEntry{}, false
	}
	c.moveToFront(it)
	return it.ent, true
}

func (c *mediaCache) Put(key string, data []byte, contentType string) {
	sz := int64(len(data))
	if c.maxBytes > 0 && sz > c.maxBytes {
		c.overflowLog.Printf("resolver: media body of %d bytes exceeds cache size, not cached", sz)
		return
	}
	ent := mediaEntry{Data: data, ContentType: contentType, Length: sz}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.total -= it.ent.Length
		it.ent = ent
		c.total += sz
		c.moveToFront(it)
		return
	}

	for c.maxBytes > 0 && c.total+sz > c.maxBytes && c.tail != nil {
		c.evictLocked()
	}

	it := &mediaItem{key: key, ent: ent}
	c.items[key] = it
	c.addToFront(it)
	c.total += sz
}

// Clear drops every entry. Called whenever the loaded site changes.
func (c *mediaCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]*mediaItem{}
	c.head, c.tail = nil, nil
	c.total = 0
}

func (c *mediaCache) evictLocked() {
	it := c.tail
	if it == nil {
		return
	}
	c.remove(it)
	delete(c.items, it.key)
	c.total -= it.ent.Length
}

func (c *mediaCache) addToFront(it *mediaItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *mediaCache) remove(it *mediaItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *mediaCache) moveToFront(it *mediaItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}
