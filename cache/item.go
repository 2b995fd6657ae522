package cache

import (
	"time"
)

// Item is a cache entry. Concrete caches embed ItemBase and attach their payload.
// Validate is consulted on lookup and sweep for unpinned items, Destroy releases the payload
// and is never called while the item is locked.
type Item interface {
	Validate() bool
	Destroy()

	getBase() *ItemBase
}

// Match selects one of several items stored under the same key
type Match func(item Item) bool

// ItemBase holds the bookkeeping of an Item
type ItemBase struct {
	key          string
	expires      time.Time
	size         int64
	lastAccessed time.Time
	lock         int
	removed      bool
	inserted     bool
	destroyed    bool
	seq          uint64
}

// NewItemBase creates a new ItemBase, zero expires means no expiration
func NewItemBase(expires time.Time, size int64) ItemBase {
	return ItemBase{
		expires: expires,
		size:    size,
	}
}

func (base *ItemBase) getBase() *ItemBase {
	return base
}

// Validate accepts the item, override to veto stale items
func (base *ItemBase) Validate() bool {
	return true
}

// Destroy does nothing, override to release the payload
func (base *ItemBase) Destroy() {
}

// GetKey returns the key the item is stored under
func (base *ItemBase) GetKey() string {
	return base.key
}

// GetExpires returns the absolute expiration time
func (base *ItemBase) GetExpires() time.Time {
	return base.expires
}

// GetSize returns the size used for capacity accounting
func (base *ItemBase) GetSize() int64 {
	return base.size
}

// GetLastAccessed returns the time of the last successful lookup
func (base *ItemBase) GetLastAccessed() time.Time {
	return base.lastAccessed
}

// GetLockCount returns the number of active pins
func (base *ItemBase) GetLockCount() int {
	return base.lock
}

// IsRemoved returns true if the item was evicted while pinned
func (base *ItemBase) IsRemoved() bool {
	return base.removed
}

// IsDestroyed returns true if Destroy was called
func (base *ItemBase) IsDestroyed() bool {
	return base.destroyed
}

func (base *ItemBase) expired(now time.Time) bool {
	return !base.expires.IsZero() && !now.Before(base.expires)
}
