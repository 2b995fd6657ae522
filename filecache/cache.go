// Package filecache caches the contents of remote iRODS files in a rubber arena
package filecache

import (
	"time"

	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/cyverse/rubbercache/cache"
	"github.com/cyverse/rubbercache/event"
	"github.com/cyverse/rubbercache/fill"
	"github.com/cyverse/rubbercache/irods"
	rubbercache_io "github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/report"
	"github.com/cyverse/rubbercache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// fileItem is the stored content of one version of a file
type fileItem struct {
	fill.Item

	path       string
	size       int64
	modifyTime time.Time
}

func (item *fileItem) isVersionOf(entry *irodsclient_fs.Entry) bool {
	return item.size == entry.Size && item.modifyTime.Equal(entry.ModifyTime)
}

// versionMatch selects the stored content of the entry's current version
func versionMatch(entry *irodsclient_fs.Entry) cache.Match {
	return func(item cache.Item) bool {
		stored, ok := item.(*fileItem)
		return ok && stored.isVersionOf(entry)
	}
}

// fileRequest stores a new version of a file, replacing older ones
type fileRequest struct {
	key   string
	entry *irodsclient_fs.Entry
}

func (request *fileRequest) GetKey() string {
	return request.key
}

func (request *fileRequest) Match(item cache.Item) bool {
	return true
}

func (request *fileRequest) IsPartial() bool {
	return false
}

func (request *fileRequest) NewItem(base fill.Item) cache.Item {
	return &fileItem{
		Item:       base,
		path:       request.entry.Path,
		size:       request.entry.Size,
		modifyTime: request.entry.ModifyTime,
	}
}

// Cache serves file contents from the arena, reading through the iRODS client on a miss
type Cache struct {
	loop   *event.Loop
	config *Config
	client irods.IRODSFSClient
	store  *fill.Store
}

// NewCache creates a new Cache
func NewCache(loop *event.Loop, client irods.IRODSFSClient, config *Config, reportClient report.CacheReportClient) (*Cache, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid file cache config: %w", err)
	}

	store, err := fill.NewStore(loop, &config.Config, reportClient)
	if err != nil {
		return nil, xerrors.Errorf("failed to create file cache store: %w", err)
	}

	return &Cache{
		loop:   loop,
		config: config,
		client: client,
		store:  store,
	}, nil
}

// GetStore returns the underlying store
func (cache *Cache) GetStore() *fill.Store {
	return cache.store
}

// GetClient returns the iRODS client
func (cache *Cache) GetClient() irods.IRODSFSClient {
	return cache.client
}

// Open returns a source over the file content. Stat and OpenFile are called on the loop goroutine.
func (cache *Cache) Open(path string) (rubbercache_io.Source, error) {
	logger := log.WithFields(log.Fields{
		"package":  "filecache",
		"struct":   "Cache",
		"function": "Open",
	})

	defer utils.StackTraceFromPanic(logger)

	entry, err := cache.client.Stat(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to stat %s: %w", path, err)
	}

	if entry.Type != irodsclient_fs.FileEntry {
		return nil, xerrors.Errorf("%s is not a file", path)
	}

	key := utils.MakeHash(path)

	_, body := cache.store.Lookup(key, versionMatch(entry))
	if body != nil {
		logger.Debugf("%s served from cache", path)
		return body, nil
	}

	logger.Debugf("filling %s, %d bytes modified at %s", path, entry.Size, utils.MakeTimeToString(entry.ModifyTime))

	handle, err := cache.client.OpenFile(path, cache.config.Resource, string(irodsclient_types.FileOpenModeReadOnly))
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", path, err)
	}

	source := irods.NewFileSource(cache.loop, handle, cache.config.BlockSize)

	request := &fileRequest{
		key:   key,
		entry: entry,
	}
	return cache.store.Fill(request, source), nil
}

// ReadAll collects the whole file content, callback is called on the loop goroutine.
// It returns nil if the file could not be opened, callback has been called with the error then.
func (cache *Cache) ReadAll(path string, callback func(data []byte, err error)) *rubbercache_io.BufferSink {
	source, err := cache.Open(path)
	if err != nil {
		callback(nil, err)
		return nil
	}

	sink := rubbercache_io.NewBufferSink(source, callback)
	sink.Start()
	return sink
}

// Invalidate removes the stored content of the file
func (cache *Cache) Invalidate(path string) int {
	return cache.store.Remove(utils.MakeHash(path))
}

// Flush removes all stored contents
func (cache *Cache) Flush() {
	cache.store.Flush()
}

// GetStats returns the statistics
func (cache *Cache) GetStats() *report.Stats {
	return cache.store.GetStats()
}

// Release releases the store, the client is owned by the caller
func (cache *Cache) Release() error {
	return cache.store.Release()
}
