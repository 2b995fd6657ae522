// Package filtercache caches the output of stream filters, keyed by filter and source
package filtercache

import (
	"github.com/cyverse/rubbercache/cache"
	"github.com/cyverse/rubbercache/event"
	"github.com/cyverse/rubbercache/fill"
	"github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/report"
	"github.com/cyverse/rubbercache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Filter transforms a source, the output size is usually unknown
type Filter func(input io.Source) io.Source

// filterItem is a stored filter output
type filterItem struct {
	fill.Item

	filterID  string
	sourceTag string
}

// filterRequest stores one filter output, replacing what was stored under the key
type filterRequest struct {
	key       string
	filterID  string
	sourceTag string
}

func (request *filterRequest) GetKey() string {
	return request.key
}

func (request *filterRequest) Match(item cache.Item) bool {
	return true
}

func (request *filterRequest) IsPartial() bool {
	return false
}

func (request *filterRequest) NewItem(base fill.Item) cache.Item {
	return &filterItem{
		Item:      base,
		filterID:  request.filterID,
		sourceTag: request.sourceTag,
	}
}

// Cache stores filter outputs in a rubber arena
type Cache struct {
	store *fill.Store
}

// NewCache creates a new Cache, unknown output sizes are always allowed
func NewCache(loop *event.Loop, config *fill.Config, reportClient report.CacheReportClient) (*Cache, error) {
	storeConfig := *config
	storeConfig.AllowUnknownSize = true

	store, err := fill.NewStore(loop, &storeConfig, reportClient)
	if err != nil {
		return nil, xerrors.Errorf("failed to create filter cache store: %w", err)
	}

	return &Cache{
		store: store,
	}, nil
}

// GetStore returns the underlying store
func (cache *Cache) GetStore() *fill.Store {
	return cache.store
}

// Serve returns the filtered source. A stored output is returned without running the filter,
// in which case the input source is closed. An empty sourceTag disables caching.
func (cache *Cache) Serve(filterID string, sourceTag string, source io.Source, filter Filter) io.Source {
	logger := log.WithFields(log.Fields{
		"package":  "filtercache",
		"struct":   "Cache",
		"function": "Serve",
	})

	if len(sourceTag) == 0 {
		logger.Debugf("source of filter %q has no tag, not caching", filterID)
		return filter(source)
	}

	key := utils.MakeCacheKey(filterID, sourceTag)

	_, body := cache.store.Lookup(key, nil)
	if body != nil {
		logger.Debugf("output of filter %q for %q served from cache", filterID, sourceTag)
		source.Close()
		return body
	}

	request := &filterRequest{
		key:       key,
		filterID:  filterID,
		sourceTag: sourceTag,
	}

	return cache.store.Fill(request, filter(source))
}

// Invalidate removes the stored output of the filter for the source
func (cache *Cache) Invalidate(filterID string, sourceTag string) int {
	return cache.store.Remove(utils.MakeCacheKey(filterID, sourceTag))
}

// Flush removes all stored outputs
func (cache *Cache) Flush() {
	cache.store.Flush()
}

// GetStats returns the statistics
func (cache *Cache) GetStats() *report.Stats {
	return cache.store.GetStats()
}

// Release releases the store
func (cache *Cache) Release() error {
	return cache.store.Release()
}
