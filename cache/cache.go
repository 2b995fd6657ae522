// Package cache provides a generic key to item index with pinning and size based eviction.
// A Cache is driven by exactly one goroutine and provides no locking.
package cache

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyverse/rubbercache/report"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/golang-lru/simplelru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

type removeReason int

const (
	reasonEvict removeReason = iota
	reasonExpire
	reasonRemove
)

// Cache maps keys to one or more items and keeps the total size under a budget
type Cache struct {
	maxSize int64
	size    int64
	count   int

	clock        clock.Clock
	reportClient report.CacheReportClient

	lookup  map[string][]Item // newest first
	lru     *simplelru.LRU    // item seq -> Item, least recently accessed first
	pinned  map[uint64]Item   // removed but still locked
	nextSeq uint64

	released bool
}

// NewCache creates a new Cache
func NewCache(bucketHint int, maxSize int64, options ...Option) *Cache {
	cfg := getOpts(options)

	// the lru never evicts by itself, the size budget is enforced here
	lru, err := simplelru.NewLRU(math.MaxInt32, nil)
	if err != nil {
		panic(xerrors.Errorf("failed to create lru index: %w", err))
	}

	if bucketHint < 0 {
		bucketHint = 0
	}

	return &Cache{
		maxSize: maxSize,
		size:    0,
		count:   0,

		clock:        cfg.clock,
		reportClient: cfg.reportClient,

		lookup:  make(map[string][]Item, bucketHint),
		lru:     lru,
		pinned:  map[uint64]Item{},
		nextSeq: 1,
	}
}

// GetMaxSize returns the size budget
func (cache *Cache) GetMaxSize() int64 {
	return cache.maxSize
}

// GetSize returns the accounted size of all live items
func (cache *Cache) GetSize() int64 {
	return cache.size
}

// GetItemCount returns the number of live items
func (cache *Cache) GetItemCount() int {
	return cache.count
}

// GetPinnedCount returns the number of removed items still waiting for their last Unlock
func (cache *Cache) GetPinnedCount() int {
	return len(cache.pinned)
}

// Get returns the most recently stored valid item under the key, or nil
func (cache *Cache) Get(key string) Item {
	return cache.GetMatch(key, nil)
}

// GetMatch returns the most recently stored valid item under the key accepted by match, or nil
func (cache *Cache) GetMatch(key string, match Match) Item {
	now := cache.clock.Now()

	items := cache.lookup[key]
	for i := 0; i < len(items); {
		item := items[i]
		if match != nil && !match(item) {
			i++
			continue
		}

		if !cache.isValid(item, now) {
			cache.removeItem(item, reasonExpire)
			// removal shifted the remaining items
			items = cache.lookup[key]
			continue
		}

		base := item.getBase()
		base.lastAccessed = now
		cache.lru.Get(base.seq)

		if cache.reportClient != nil {
			cache.reportClient.CacheHit(key)
		}
		return item
	}

	if cache.reportClient != nil {
		cache.reportClient.CacheMiss(key)
	}
	return nil
}

// Add inserts the item without touching other items under the same key
func (cache *Cache) Add(key string, item Item) bool {
	return cache.insert(key, item)
}

// Put removes every item under the key and inserts the new one
func (cache *Cache) Put(key string, item Item) bool {
	for _, old := range cache.snapshot(key) {
		cache.removeItem(old, reasonRemove)
	}

	return cache.insert(key, item)
}

// PutMatch replaces the first item under the key accepted by match, or inserts if none matches.
// A nil match accepts every item.
func (cache *Cache) PutMatch(key string, item Item, match Match) bool {
	for _, old := range cache.lookup[key] {
		if match == nil || match(old) {
			cache.removeItem(old, reasonRemove)
			break
		}
	}

	return cache.insert(key, item)
}

// Remove removes all items under the key, returns the number of removed items
func (cache *Cache) Remove(key string) int {
	items := cache.snapshot(key)
	for _, item := range items {
		cache.removeItem(item, reasonRemove)
	}
	return len(items)
}

// RemoveMatch removes all items under the key accepted by match, a nil match accepts every item
func (cache *Cache) RemoveMatch(key string, match Match) int {
	removed := 0
	for _, item := range cache.snapshot(key) {
		if match == nil || match(item) {
			cache.removeItem(item, reasonRemove)
			removed++
		}
	}
	return removed
}

// RemoveItem removes one specific item stored under the key
func (cache *Cache) RemoveItem(key string, item Item) bool {
	for _, stored := range cache.lookup[key] {
		if stored == item {
			cache.removeItem(item, reasonRemove)
			return true
		}
	}
	return false
}

// EvictOldest evicts the least recently accessed item that is not locked, so its Destroy runs now.
// Returns false if every item is locked or the cache is empty.
func (cache *Cache) EvictOldest() bool {
	for _, key := range cache.lru.Keys() {
		value, ok := cache.lru.Peek(key)
		if !ok {
			continue
		}

		item := value.(Item)
		if item.getBase().lock > 0 {
			continue
		}

		cache.removeItem(item, reasonEvict)
		cache.reportSize()
		return true
	}
	return false
}

// Lock pins the item, it will not be destroyed until unlocked
func (cache *Cache) Lock(item Item) {
	base := item.getBase()
	if base.destroyed {
		cache.violation("Lock", "locking destroyed item %q", base.key)
		return
	}

	base.lock++
}

// Unlock unpins the item. The last Unlock of a removed item destroys it.
func (cache *Cache) Unlock(item Item) {
	base := item.getBase()
	if base.lock <= 0 {
		cache.violation("Unlock", "unlocking item %q which is not locked", base.key)
		return
	}

	base.lock--
	if base.lock == 0 && base.removed {
		delete(cache.pinned, base.seq)
		cache.destroy(item)
	}
}

// Flush removes all items. Locked items are destroyed on their last Unlock.
func (cache *Cache) Flush() {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Cache",
		"function": "Flush",
	})

	logger.Debugf("flushing %d items", cache.count)

	for _, key := range cache.lru.Keys() {
		value, ok := cache.lru.Peek(key)
		if !ok {
			continue
		}
		cache.removeItem(value.(Item), reasonRemove)
	}

	cache.reportSize()
}

// Cleanup removes expired items and items vetoed by Validate, then evicts the least recently
// accessed items while over budget. Returns the number of removed items.
func (cache *Cache) Cleanup() int {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Cache",
		"function": "Cleanup",
	})

	now := cache.clock.Now()
	removed := 0

	for _, key := range cache.lru.Keys() {
		value, ok := cache.lru.Peek(key)
		if !ok {
			continue
		}

		item := value.(Item)
		if !cache.isValid(item, now) {
			cache.removeItem(item, reasonExpire)
			removed++
		}
	}

	removed += cache.makeRoom(0)

	if removed > 0 {
		logger.Debugf("removed %d items, %d items left (%d bytes)", removed, cache.count, cache.size)
	}

	cache.reportSize()
	return removed
}

// Release removes all items. Returns an error listing items that are still locked.
func (cache *Cache) Release() error {
	cache.Flush()
	cache.released = true

	var result *multierror.Error
	for _, item := range cache.pinned {
		base := item.getBase()
		result = multierror.Append(result, xerrors.Errorf("item %q is still locked %d times", base.key, base.lock))
	}

	return result.ErrorOrNil()
}

func (cache *Cache) isValid(item Item, now time.Time) bool {
	base := item.getBase()
	if base.expired(now) {
		return false
	}

	// pinned items are in use by a reader, never validated
	if base.lock > 0 {
		return true
	}

	return item.Validate()
}

// copy of the items under a key, safe to iterate while removing
func (cache *Cache) snapshot(key string) []Item {
	items := cache.lookup[key]
	if len(items) == 0 {
		return nil
	}

	return append([]Item{}, items...)
}

func (cache *Cache) insert(key string, item Item) bool {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Cache",
		"function": "insert",
	})

	base := item.getBase()
	if base.inserted {
		cache.violation("insert", "item %q is already inserted", base.key)
		return false
	}

	base.key = key
	base.inserted = true
	base.seq = cache.nextSeq
	base.lastAccessed = cache.clock.Now()
	cache.nextSeq++

	if cache.released || base.size > cache.maxSize {
		logger.Debugf("rejecting item %q of %d bytes, max %d bytes", key, base.size, cache.maxSize)
		base.removed = true
		cache.destroy(item)
		return false
	}

	cache.makeRoom(base.size)

	cache.lookup[key] = append([]Item{item}, cache.lookup[key]...)
	cache.lru.Add(base.seq, item)
	cache.size += base.size
	cache.count++

	cache.reportSize()
	return true
}

// evicts least recently accessed items until needed bytes fit in the budget
func (cache *Cache) makeRoom(needed int64) int {
	evicted := 0
	for cache.size+needed > cache.maxSize {
		_, value, ok := cache.lru.GetOldest()
		if !ok {
			break
		}

		cache.removeItem(value.(Item), reasonEvict)
		evicted++
	}
	return evicted
}

func (cache *Cache) removeItem(item Item, reason removeReason) {
	base := item.getBase()

	items := cache.lookup[base.key]
	for i, stored := range items {
		if stored == item {
			items = append(items[:i:i], items[i+1:]...)
			break
		}
	}

	if len(items) == 0 {
		delete(cache.lookup, base.key)
	} else {
		cache.lookup[base.key] = items
	}

	cache.lru.Remove(base.seq)
	cache.size -= base.size
	cache.count--
	base.removed = true

	if cache.reportClient != nil {
		switch reason {
		case reasonExpire:
			cache.reportClient.CacheExpire(base.key, base.size)
		default:
			cache.reportClient.CacheEvict(base.key, base.size)
		}
	}

	if base.lock > 0 {
		cache.pinned[base.seq] = item
		return
	}

	cache.destroy(item)
}

func (cache *Cache) destroy(item Item) {
	base := item.getBase()
	if base.lock > 0 {
		cache.violation("destroy", "destroying item %q which is locked %d times", base.key, base.lock)
		return
	}

	if base.destroyed {
		return
	}

	base.destroyed = true
	item.Destroy()
}

func (cache *Cache) reportSize() {
	if cache.reportClient != nil {
		cache.reportClient.CacheSize(cache.size, cache.count)
	}
}

func (cache *Cache) violation(function string, format string, args ...interface{}) {
	err := xerrors.Errorf(format, args...)
	if debugInvariants {
		panic(err)
	}

	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Cache",
		"function": function,
	})

	logger.WithError(err).Error("cache contract violation")
}
