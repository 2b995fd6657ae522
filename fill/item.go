package fill

import (
	"time"

	"github.com/cyverse/rubbercache/cache"
	"github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/rubber"
)

// BodyItem is a cache item whose body lives in the arena
type BodyItem interface {
	cache.Item
	GetFillItem() *Item
}

// Item owns one rubber allocation holding a cached body.
// Owners embed it to attach their metadata.
type Item struct {
	cache.ItemBase

	rubber   *rubber.Rubber
	id       rubber.ID
	bodySize int
}

// NewItem creates a new Item owning the allocation
func NewItem(rub *rubber.Rubber, id rubber.ID, bodySize int, expires time.Time) Item {
	return Item{
		ItemBase: cache.NewItemBase(expires, int64(bodySize)),
		rubber:   rub,
		id:       id,
		bodySize: bodySize,
	}
}

// GetFillItem returns the item itself
func (item *Item) GetFillItem() *Item {
	return item
}

// GetID returns the allocation id, NoID once destroyed
func (item *Item) GetID() rubber.ID {
	return item.id
}

// GetBodySize returns the body size
func (item *Item) GetBodySize() int {
	return item.bodySize
}

// GetBody returns a view over the body, invalidated by Compress
func (item *Item) GetBody() []byte {
	return item.rubber.Read(item.id)
}

// NewSource creates a zero copy source over the body
func (item *Item) NewSource() io.Source {
	return io.NewRubberSource(item.rubber, item.id, item.bodySize)
}

// Destroy frees the allocation
func (item *Item) Destroy() {
	if item.id == rubber.NoID {
		return
	}

	item.rubber.Remove(item.id)
	item.id = rubber.NoID
}
