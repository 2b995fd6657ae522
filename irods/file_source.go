package irods

import (
	"io"
	"sync"

	"github.com/cyverse/rubbercache/event"
	rubbercache_io "github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// DefaultBlockSize is the size of one ReadAt call
	DefaultBlockSize int = 64 * 1024
	// readAheadBlocks is the number of blocks buffered before the reader waits for the consumer
	readAheadBlocks int = 4
)

// FileSource streams an open iRODS file into the loop.
// Blocks are read in a goroutine and handed over to the loop with Post.
type FileSource struct {
	loop      *event.Loop
	handle    IRODSFSFileHandle
	path      string
	blockSize int

	feed *rubbercache_io.FeedSource

	resume   chan struct{}
	waiting  bool // reader goroutine waits for the consumer, loop side only
	canceled bool
	mutex    sync.Mutex // lock for canceled
}

// NewFileSource creates a new FileSource and starts reading, the handle is closed when done
func NewFileSource(loop *event.Loop, handle IRODSFSFileHandle, blockSize int) *FileSource {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	entry := handle.GetEntry()

	source := &FileSource{
		loop:      loop,
		handle:    handle,
		path:      entry.Path,
		blockSize: blockSize,

		feed: rubbercache_io.NewFeedSource(entry.Size),

		resume:   make(chan struct{}, 1),
		waiting:  false,
		canceled: false,
	}

	go source.readLoop(entry.Size)

	return source
}

// GetPath returns the path of the file
func (source *FileSource) GetPath() string {
	return source.path
}

// SetHandler sets the handler receiving data
func (source *FileSource) SetHandler(handler rubbercache_io.Handler) {
	source.feed.SetHandler(handler)
}

// Read pushes buffered blocks
func (source *FileSource) Read() {
	source.feed.Read()
	source.wakeReader()
}

// Close stops reading, the reader goroutine closes the handle
func (source *FileSource) Close() {
	source.feed.Close()
	source.cancel()
}

// GetAvailable returns the remaining bytes
func (source *FileSource) GetAvailable(partial bool) int64 {
	return source.feed.GetAvailable(partial)
}

func (source *FileSource) isCanceled() bool {
	source.mutex.Lock()
	defer source.mutex.Unlock()

	return source.canceled
}

func (source *FileSource) cancel() {
	source.mutex.Lock()
	source.canceled = true
	source.mutex.Unlock()

	source.signal()
}

func (source *FileSource) signal() {
	select {
	case source.resume <- struct{}{}:
	default:
	}
}

// wakeReader lets the reader continue once the buffer has drained
func (source *FileSource) wakeReader() {
	if !source.waiting {
		return
	}

	if source.feed.GetAvailable(true) >= int64(source.blockSize*readAheadBlocks) {
		return
	}

	source.waiting = false
	source.signal()
}

// runs on the loop
func (source *FileSource) deliver(block []byte) {
	if !source.feed.Feed(block) {
		source.cancel()
		return
	}

	source.waiting = true
	source.wakeReader()
}

func (source *FileSource) readLoop(size int64) {
	logger := log.WithFields(log.Fields{
		"package":  "irods",
		"struct":   "FileSource",
		"function": "readLoop",
	})

	defer utils.StackTraceFromPanic(logger)

	defer func() {
		err := source.handle.Close()
		if err != nil {
			logger.WithError(err).Errorf("failed to close file handle %s", source.handle.GetID())
		}
	}()

	offset := int64(0)
	for !source.isCanceled() {
		block := make([]byte, source.blockSize)
		readLen, err := source.handle.ReadAt(block, offset)
		if readLen > 0 {
			data := block[:readLen]
			offset += int64(readLen)

			if !source.loop.Post(func() { source.deliver(data) }) {
				return
			}
		}

		if err == io.EOF || (err == nil && size >= 0 && offset >= size) {
			logger.Debugf("read %d bytes from %s", offset, source.path)
			source.loop.Post(source.feed.Finish)
			return
		}

		if err != nil {
			readErr := xerrors.Errorf("failed to read %s at offset %d: %w", source.path, offset, err)
			logger.WithError(readErr).Debug("upstream read failed")
			source.loop.Post(func() { source.feed.Fail(readErr) })
			return
		}

		if readLen == 0 {
			// the handle made no progress before the end of the file
			readErr := xerrors.Errorf("failed to read %s at offset %d of %d: %w", source.path, offset, size, io.ErrUnexpectedEOF)
			logger.WithError(readErr).Debug("upstream read made no progress")
			source.loop.Post(func() { source.feed.Fail(readErr) })
			return
		}

		// wait until the loop took the block and the consumer caught up
		<-source.resume
	}
}
