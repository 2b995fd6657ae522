// Package fill populates a rubber-backed cache while the response is being served
package fill

import (
	"errors"

	"github.com/cyverse/rubbercache/cache"
	"github.com/cyverse/rubbercache/event"
	"github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/report"
	"github.com/cyverse/rubbercache/rubber"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// ReasonPartial is reported for range requests
	ReasonPartial string = "partial"
	// ReasonUnknownSize is reported when the body size is unknown and not allowed
	ReasonUnknownSize string = "unknown_size"
	// ReasonTooLarge is reported when the body exceeds the max size
	ReasonTooLarge string = "too_large"
	// ReasonOutOfMemory is reported when the arena has no room for the body
	ReasonOutOfMemory string = "out_of_memory"
	// ReasonReleased is reported after the store is released
	ReasonReleased string = "released"
)

// FillRequest describes what a fill stores and under which key
type FillRequest interface {
	GetKey() string
	// Match selects the variant this request replaces
	Match(item cache.Item) bool
	IsPartial() bool
	// NewItem wraps the committed body into the owner's item
	NewItem(base Item) cache.Item
}

// Store owns one arena and the cache index of the bodies stored in it.
// All methods must be called on the loop goroutine.
type Store struct {
	loop         *event.Loop
	config       *Config
	rubber       *rubber.Rubber
	cache        *cache.Cache
	reportClient report.CacheReportClient

	sinks         map[xid.ID]*Sink
	cleanupTimer  *event.Timer
	compressTimer *event.Timer
	released      bool
}

// NewStore creates a new Store, reportClient may be nil
func NewStore(loop *event.Loop, config *Config, reportClient report.CacheReportClient) (*Store, error) {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"function": "NewStore",
	})

	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid fill config: %w", err)
	}

	rub, err := rubber.NewRubberWithConfig(config.GetRubberConfig())
	if err != nil {
		return nil, xerrors.Errorf("failed to create rubber: %w", err)
	}

	store := &Store{
		loop:         loop,
		config:       config,
		rubber:       rub,
		cache:        cache.NewCache(0, config.GetCacheSize(), cache.WithClock(loop.GetClock()), cache.WithReportClient(reportClient)),
		reportClient: reportClient,

		sinks:    map[xid.ID]*Sink{},
		released: false,
	}

	store.scheduleCleanup()
	store.scheduleCompress()

	logger.Infof("created store, arena %d bytes, cache %d bytes, max body %d bytes", rub.GetCapacity(), config.GetCacheSize(), config.MaxSize)
	return store, nil
}

// GetConfig returns the config
func (store *Store) GetConfig() *Config {
	return store.config
}

// GetLoop returns the loop the store runs on
func (store *Store) GetLoop() *event.Loop {
	return store.loop
}

// GetCache returns the cache index
func (store *Store) GetCache() *cache.Cache {
	return store.cache
}

// GetRubber returns the arena
func (store *Store) GetRubber() *rubber.Rubber {
	return store.rubber
}

// GetActiveFillCount returns the number of running fills
func (store *Store) GetActiveFillCount() int {
	return len(store.sinks)
}

// Lookup returns the matching item and a locked source over its body, or nil on miss
func (store *Store) Lookup(key string, match cache.Match) (cache.Item, io.Source) {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"struct":   "Store",
		"function": "Lookup",
	})

	if store.released {
		return nil, nil
	}

	item := store.cache.GetMatch(key, match)
	if item == nil {
		return nil, nil
	}

	body, ok := item.(BodyItem)
	if !ok {
		logger.Errorf("item %q does not carry a body", key)
		return nil, nil
	}

	return item, io.NewLockedSource(store.cache, item, body.GetFillItem().NewSource())
}

// Fill passes upstream through the cacheability gate. It returns the source the primary consumer
// reads, which is upstream itself when the body is not cached.
func (store *Store) Fill(request FillRequest, upstream io.Source) io.Source {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"struct":   "Store",
		"function": "Fill",
	})

	key := request.GetKey()
	expected := upstream.GetAvailable(false)

	reason := store.gate(request, expected)
	if len(reason) > 0 {
		logger.Debugf("serving %q directly, %s", key, reason)
		store.reportDirect(key, reason)
		return upstream
	}

	sink, err := newSink(store, request, expected)
	if err != nil {
		logger.WithError(err).Debugf("serving %q directly, no allocation", key)
		store.reportDirect(key, ReasonOutOfMemory)
		if store.reportClient != nil {
			store.reportClient.FillDone(key, OutcomeOutOfMemory.String(), 0)
		}
		return upstream
	}

	store.sinks[sink.id] = sink
	if store.reportClient != nil {
		store.reportClient.FillStart(key, expected)
	}

	logger.Debugf("fill %s of %q started, expected %d bytes", sink.id, key, expected)

	tee := io.NewTee(upstream, false, true)
	sink.attach(tee.GetSecond())
	return tee.GetFirst()
}

// Remove removes all items under the key
func (store *Store) Remove(key string) int {
	return store.cache.Remove(key)
}

// RemoveMatch removes the items under the key accepted by match
func (store *Store) RemoveMatch(key string, match cache.Match) int {
	return store.cache.RemoveMatch(key, match)
}

// Compress compacts the arena
func (store *Store) Compress() {
	store.rubber.Compress()
	store.reportRubber()
}

// Flush removes all items
func (store *Store) Flush() {
	store.cache.Flush()
	store.reportRubber()
}

// GetStats returns the statistics, sizes are taken from the live arena and cache
func (store *Store) GetStats() *report.Stats {
	stats := &report.Stats{
		FillOutcomes: map[string]int64{},
	}
	if store.reportClient != nil {
		stats = store.reportClient.GetStats()
	}

	stats.CacheSize = store.cache.GetSize()
	stats.CacheItems = int64(store.cache.GetItemCount())
	stats.RubberNettoSize = store.rubber.GetNettoSize()
	stats.RubberBruttoSize = store.rubber.GetBruttoSize()
	return stats
}

// Release aborts running fills and removes all items.
// The arena is kept if items are still locked.
func (store *Store) Release() error {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"struct":   "Store",
		"function": "Release",
	})

	if store.released {
		return nil
	}

	store.released = true

	if store.cleanupTimer != nil {
		store.cleanupTimer.Cancel()
		store.cleanupTimer = nil
	}

	if store.compressTimer != nil {
		store.compressTimer.Cancel()
		store.compressTimer = nil
	}

	for _, sink := range store.sinks {
		sink.abort()
	}

	var result *multierror.Error
	err := store.cache.Release()
	if err != nil {
		result = multierror.Append(result, xerrors.Errorf("failed to release cache: %w", err))
	}

	if store.rubber.GetObjectCount() > 0 {
		result = multierror.Append(result, xerrors.Errorf("%d allocations are still in use", store.rubber.GetObjectCount()))
	} else {
		store.rubber.Release()
	}

	if result != nil {
		logger.WithError(result).Error("store released with items in use")
	}
	return result.ErrorOrNil()
}

func (store *Store) gate(request FillRequest, expected int64) string {
	if store.released {
		return ReasonReleased
	}

	if request.IsPartial() {
		return ReasonPartial
	}

	if expected < 0 {
		if !store.config.AllowUnknownSize {
			return ReasonUnknownSize
		}
		return ""
	}

	if expected > store.config.MaxSize {
		return ReasonTooLarge
	}
	return ""
}

// allocate reserves size bytes. When the arena is exhausted it compresses if fragmentation could
// make room, and evicts the least recently accessed unlocked items otherwise. The cache budget counts
// body sizes, so the arena can run out of aligned space or object slots before the budget is reached.
func (store *Store) allocate(size int) (rubber.ID, error) {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"struct":   "Store",
		"function": "allocate",
	})

	evicted := 0
	compressed := false
	id, err := store.rubber.Add(size)
	for err != nil {
		if !errors.Is(err, rubber.ErrAllocationExhausted) || int64(size) > store.config.MaxSize {
			return rubber.NoID, err
		}

		if !compressed && errors.Is(err, rubber.ErrNoSpace) && store.rubber.GetFragmentation() > 0 {
			logger.Debugf("compressing arena for %d bytes, fragmentation %d bytes", size, store.rubber.GetFragmentation())
			store.Compress()
			compressed = true
		} else if store.cache.EvictOldest() {
			evicted++
			compressed = false
		} else {
			logger.Debugf("no room for %d bytes after evicting %d items", size, evicted)
			return rubber.NoID, err
		}

		id, err = store.rubber.Add(size)
	}

	if evicted > 0 {
		logger.Debugf("evicted %d items to make room for %d bytes", evicted, size)
		store.reportRubber()
	}
	return id, nil
}

func (store *Store) fillDone(sink *Sink) {
	delete(store.sinks, sink.id)

	if store.reportClient != nil {
		store.reportClient.FillDone(sink.GetKey(), sink.outcome.String(), int64(sink.written))
	}
	store.reportRubber()
}

func (store *Store) reportDirect(key string, reason string) {
	if store.reportClient != nil {
		store.reportClient.ServeDirect(key, reason)
	}
}

func (store *Store) reportRubber() {
	if store.reportClient != nil {
		store.reportClient.RubberSize(store.rubber.GetNettoSize(), store.rubber.GetBruttoSize())
	}
}

func (store *Store) scheduleCleanup() {
	if store.config.CleanupInterval <= 0 {
		return
	}

	store.cleanupTimer = store.loop.AfterFunc(store.config.CleanupInterval, func() {
		store.cleanupTimer = nil
		store.cache.Cleanup()
		store.reportRubber()
		store.scheduleCleanup()
	})
}

func (store *Store) scheduleCompress() {
	if store.config.CompressInterval <= 0 {
		return
	}

	store.compressTimer = store.loop.AfterFunc(store.config.CompressInterval, func() {
		store.compressTimer = nil
		store.Compress()
		store.scheduleCompress()
	})
}
