package io

import (
	"github.com/cyverse/rubbercache/cache"
)

// LockedSource keeps a cache item pinned while its bytes are read.
// The item is unlocked exactly once, on EOF, error or Close, before the event is passed on.
type LockedSource struct {
	sourceBase

	cache  *cache.Cache
	item   cache.Item
	inner  Source
	locked bool
}

// NewLockedSource creates a new LockedSource, it locks the item immediately
func NewLockedSource(c *cache.Cache, item cache.Item, inner Source) *LockedSource {
	c.Lock(item)

	source := &LockedSource{
		cache:  c,
		item:   item,
		inner:  inner,
		locked: true,
	}

	inner.SetHandler(source)
	return source
}

// GetItem returns the pinned item
func (source *LockedSource) GetItem() cache.Item {
	return source.item
}

// IsLocked returns true until the item is unlocked
func (source *LockedSource) IsLocked() bool {
	return source.locked
}

// Read asks the inner source to push
func (source *LockedSource) Read() {
	if source.finished {
		return
	}

	source.inner.Read()
}

// Close unlocks the item, then closes the inner source
func (source *LockedSource) Close() {
	if source.finished {
		return
	}

	source.finished = true
	source.unlock()
	source.inner.Close()
}

// GetAvailable returns the bytes left in the inner source
func (source *LockedSource) GetAvailable(partial bool) int64 {
	if source.finished {
		return 0
	}
	return source.inner.GetAvailable(partial)
}

// OnData forwards data
func (source *LockedSource) OnData(data []byte) int {
	if source.finished {
		return 0
	}
	return source.deliverData(data)
}

// OnEOF unlocks the item, then forwards EOF
func (source *LockedSource) OnEOF() {
	source.unlock()
	source.deliverEOF()
}

// OnError unlocks the item, then forwards the error
func (source *LockedSource) OnError(err error) {
	source.unlock()
	source.deliverError(err)
}

func (source *LockedSource) unlock() {
	if !source.locked {
		return
	}

	source.locked = false
	source.cache.Unlock(source.item)
}
