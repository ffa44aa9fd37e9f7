// Package sitecache persists fully reconstructed sites keyed by site hash
// so a reload does not have to go back to the swarm.
package sitecache

import (
	"bytes"
	"encoding/gob"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type File struct {
	Path        string
	Content     []byte
	ContentType string
	IsText      bool
	IsMedia     bool
	Size        int64
}

type Site struct {
	Hash     string
	Files    []File
	StoredAt int64 // unix seconds
}

type meta struct {
	Size       int64
	StoredAt   int64
	LastAccess int64
}

type op struct {
	putKey string
	put    *Site
	touch  bool
	delKey string
	clear  bool
	flush  chan struct{}
}

// Cache is a leveldb-backed store of sites. Writes go through a single
// writer goroutine; reads hit leveldb directly.
type Cache struct {
	ttl      time.Duration
	maxBytes int64

	db *leveldb.DB

	mu        sync.Mutex
	index     map[string]meta
	totalSize int64

	ops  chan op
	done chan struct{}

	now func() time.Time
}

func Open(path string, ttl time.Duration, maxBytes int64) (*Cache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		ttl:      ttl,
		maxBytes: maxBytes,
		db:       db,
		index:    map[string]meta{},
		ops:      make(chan op, 64),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	if err := c.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go c.writerLoop()
	return c, nil
}

// Close drains queued writes and closes the database.
func (c *Cache) Close() error {
	close(c.ops)
	<-c.done
	return c.db.Close()
}

func (c *Cache) loadIndex() error {
	it := c.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()

	var total int64
	idx := map[string]meta{}
	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), []byte("m:")))
		var m meta
		if err := decodeGob(it.Value(), &m); err != nil {
			continue
		}
		idx[key] = m
		total += m.Size
	}
	if err := it.Error(); err != nil {
		return err
	}
	c.mu.Lock()
	c.index = idx
	c.totalSize = total
	c.mu.Unlock()
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

func (c *Cache) expired(m meta, now time.Time) bool {
	return c.ttl > 0 && now.Sub(time.Unix(m.StoredAt, 0)) > c.ttl
}

// Get returns the site stored for hash. Entries older than the TTL count
// as absent and are removed.
func (c *Cache) Get(hash string) (*Site, bool) {
	now := c.now()
	c.mu.Lock()
	m, ok := c.index[hash]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	if c.expired(m, now) {
		c.Delete(hash)
		return nil, false
	}

	b, err := c.db.Get([]byte("e:"+hash), nil)
	if err != nil {
		return nil, false
	}
	var s Site
	if err := decodeGob(b, &s); err != nil {
		log.Printf("sitecache: dropping unreadable entry %s: %v", hash, err)
		c.Delete(hash)
		return nil, false
	}
	c.ops <- op{putKey: hash, touch: true}
	return &s, true
}

// Set stores s asynchronously. Use Flush to wait for it.
func (c *Cache) Set(hash string, s *Site) {
	clone := *s
	clone.Hash = hash
	if clone.StoredAt == 0 {
		clone.StoredAt = c.now().Unix()
	}
	c.ops <- op{putKey: hash, put: &clone}
}

func (c *Cache) Delete(hash string) {
	c.ops <- op{delKey: hash}
}

func (c *Cache) Clear() {
	c.ops <- op{clear: true}
}

// Flush blocks until every write queued before it has been applied.
func (c *Cache) Flush() {
	ch := make(chan struct{})
	c.ops <- op{flush: ch}
	<-ch
}

func (c *Cache) writerLoop() {
	defer close(c.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for o := range c.ops {
		switch {
		case o.flush != nil:
			close(o.flush)
		case o.clear:
			c.applyClear()
		case o.delKey != "":
			c.applyDelete(o.delKey)
		case o.putKey != "" && o.put != nil:
			c.applyPut(o.putKey, o.put)
		case o.putKey != "" && o.touch:
			c.applyTouch(o.putKey)
		}
	}
}

func (c *Cache) applyPut(key string, s *Site) {
	b, err := encodeGob(*s)
	if err != nil {
		log.Printf("sitecache: encode %s: %v", key, err)
		return
	}
	m := meta{Size: int64(len(b)), StoredAt: s.StoredAt, LastAccess: c.now().Unix()}
	mb, err := encodeGob(m)
	if err != nil {
		return
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte("e:"+key), b)
	batch.Put([]byte("m:"+key), mb)
	if err := c.db.Write(batch, nil); err != nil {
		log.Printf("sitecache: write %s: %v", key, err)
		return
	}

	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.totalSize -= old.Size
	}
	c.index[key] = m
	c.totalSize += m.Size
	total := c.totalSize
	c.mu.Unlock()

	if c.maxBytes > 0 && total > c.maxBytes {
		c.evictSome(key)
	}
}

func (c *Cache) applyTouch(key string) {
	c.mu.Lock()
	m, ok := c.index[key]
	if ok {
		m.LastAccess = c.now().Unix()
		c.index[key] = m
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	mb, err := encodeGob(m)
	if err != nil {
		return
	}
	_ = c.db.Put([]byte("m:"+key), mb, nil)
}

func (c *Cache) applyDelete(key string) {
	batch := new(leveldb.Batch)
	batch.Delete([]byte("e:" + key))
	batch.Delete([]byte("m:" + key))
	_ = c.db.Write(batch, nil)

	c.mu.Lock()
	if m, ok := c.index[key]; ok {
		c.totalSize -= m.Size
		delete(c.index, key)
	}
	c.mu.Unlock()
}

func (c *Cache) applyClear() {
	batch := new(leveldb.Batch)
	it := c.db.NewIterator(nil, nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := c.db.Write(batch, nil); err != nil {
		log.Printf("sitecache: clear: %v", err)
		return
	}
	c.mu.Lock()
	c.index = map[string]meta{}
	c.totalSize = 0
	c.mu.Unlock()
}

// evictSome drops the least recently used tenth of the entries, never the
// one just written.
func (c *Cache) evictSome(keep string) {
	type item struct {
		key string
		m   meta
	}
	c.mu.Lock()
	items := make([]item, 0, len(c.index))
	for k, m := range c.index {
		if k != keep {
			items = append(items, item{k, m})
		}
	}
	c.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].m.LastAccess < items[j].m.LastAccess
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && i < len(items); i++ {
		log.Printf("sitecache: evicting %s", items[i].key)
		c.applyDelete(items[i].key)
	}
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
