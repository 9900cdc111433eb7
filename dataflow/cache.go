package dataflow

import (
	"container/list"
	"fmt"
	"image"
	"sync"

	"github.com/hal2001/data-science-bowl-2018/dataset"
	"github.com/hal2001/data-science-bowl-2018/masks"
)

// entry is a decoded sample together with its foreground union.
type entry struct {
	sample *dataset.Decoded
	union  *image.Gray // nil for test samples
}

func newEntry(d *dataset.Decoded) *entry {
	e := &entry{sample: d}
	if len(d.Masks) > 0 {
		e.union = masks.Union(d.Masks, d.Width, d.Height)
	}
	return e
}

// CacheManager is an LRU cache of decoded samples keyed by sample id. One
// manager is shared by all flows of a run.
type CacheManager struct {
	mu      sync.Mutex
	cache   map[string]*entry
	lru     *list.List
	lruMap  map[string]*list.Element
	maxSize int

	// Statistics
	hits   int64
	misses int64
}

// NewCacheManager creates a cache holding at most maxSize samples.
func NewCacheManager(maxSize int) *CacheManager {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CacheManager{
		cache:   make(map[string]*entry),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// get retrieves an item and marks it most recently used.
func (cm *CacheManager) get(key string) (*entry, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if e, ok := cm.cache[key]; ok {
		cm.lru.MoveToFront(cm.lruMap[key])
		cm.hits++
		return e, true
	}
	cm.misses++
	return nil, false
}

// put adds an item, evicting the least recently used beyond maxSize.
func (cm *CacheManager) put(key string, e *entry) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.cache[key]; ok {
		cm.lru.MoveToFront(cm.lruMap[key])
		return
	}
	cm.lruMap[key] = cm.lru.PushFront(key)
	cm.cache[key] = e
	for cm.lru.Len() > cm.maxSize {
		oldest := cm.lru.Back()
		k := oldest.Value.(string)
		cm.lru.Remove(oldest)
		delete(cm.lruMap, k)
		delete(cm.cache, k)
	}
}

// load returns the cached entry for s, decoding it on a miss.
func (cm *CacheManager) load(s dataset.Sample) (*entry, error) {
	if e, ok := cm.get(s.ID); ok {
		return e, nil
	}
	d, err := dataset.Load(s)
	if err != nil {
		return nil, err
	}
	e := newEntry(d)
	cm.put(s.ID, e)
	return e, nil
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	s := CacheStats{
		Size:    cm.lru.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
	}
	if total := cm.hits + cm.misses; total > 0 {
		s.HitRate = float64(cm.hits) / float64(total) * 100
	}
	return s
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
