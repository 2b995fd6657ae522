package io

// FeedSource is a source fed by a producer, such as an upstream connection
type FeedSource struct {
	sourceBase

	buffer   []byte
	expected int64 // -1 for unknown
	consumed int64
	ended    bool
}

// NewFeedSource creates a new FeedSource, expectedSize is -1 if unknown
func NewFeedSource(expectedSize int64) *FeedSource {
	return &FeedSource{
		buffer:   []byte{},
		expected: expectedSize,
		consumed: 0,
		ended:    false,
	}
}

// Feed appends a copy of data and pushes it, returns false if the consumer closed the source
func (source *FeedSource) Feed(data []byte) bool {
	if source.finished {
		return false
	}

	if source.ended {
		return true
	}

	source.buffer = append(source.buffer, data...)
	source.Read()
	return !source.finished
}

// Finish marks the end of data, EOF is delivered once the buffer is consumed
func (source *FeedSource) Finish() {
	if source.finished {
		return
	}

	source.ended = true
	source.Read()
}

// Fail aborts the source with err, buffered bytes are dropped
func (source *FeedSource) Fail(err error) {
	if source.finished {
		return
	}

	source.buffer = nil
	source.deliverError(err)
}

// GetConsumedSize returns the number of bytes consumed so far
func (source *FeedSource) GetConsumedSize() int64 {
	return source.consumed
}

// Read pushes buffered bytes
func (source *FeedSource) Read() {
	if source.handler == nil {
		return
	}

	source.runPush(source.push)
}

// Close closes the source without any callback
func (source *FeedSource) Close() {
	source.finished = true
	source.buffer = nil
}

// GetAvailable returns the remaining bytes
func (source *FeedSource) GetAvailable(partial bool) int64 {
	if source.finished {
		return 0
	}

	if partial || source.ended {
		return int64(len(source.buffer))
	}

	if source.expected < 0 {
		return -1
	}

	return source.expected - source.consumed
}

func (source *FeedSource) push() {
	for len(source.buffer) > 0 {
		offered := source.buffer
		n := source.deliverData(offered)
		if source.finished {
			return
		}

		source.buffer = source.buffer[n:]
		source.consumed += int64(n)
		if n < len(offered) {
			return
		}
	}

	if source.ended {
		source.deliverEOF()
	}
}
