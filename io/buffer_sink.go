package io

import (
	"bytes"
)

// BufferSink collects all bytes of a source into memory
type BufferSink struct {
	source     Source
	buffer     bytes.Buffer
	chunkLimit int
	done       bool
	err        error
	callback   func(data []byte, err error)
}

// NewBufferSink creates a new BufferSink, callback is called once on EOF or error and may be nil
func NewBufferSink(source Source, callback func(data []byte, err error)) *BufferSink {
	sink := &BufferSink{
		source:     source,
		chunkLimit: 0,
		done:       false,
		callback:   callback,
	}

	source.SetHandler(sink)
	return sink
}

// SetChunkLimit makes the sink consume at most limit bytes per push, 0 means unlimited
func (sink *BufferSink) SetChunkLimit(limit int) {
	sink.chunkLimit = limit
}

// Start asks the source to push, also used to resume after a partial consume
func (sink *BufferSink) Start() {
	if sink.done {
		return
	}

	sink.source.Read()
}

// Cancel closes the source
func (sink *BufferSink) Cancel() {
	if sink.done {
		return
	}

	sink.done = true
	sink.source.Close()
}

// GetData returns the bytes collected so far
func (sink *BufferSink) GetData() []byte {
	return sink.buffer.Bytes()
}

// GetSize returns the number of bytes collected so far
func (sink *BufferSink) GetSize() int {
	return sink.buffer.Len()
}

// IsDone returns true after EOF, error or Cancel
func (sink *BufferSink) IsDone() bool {
	return sink.done
}

// GetError returns the error the source failed with
func (sink *BufferSink) GetError() error {
	return sink.err
}

// OnData collects data
func (sink *BufferSink) OnData(data []byte) int {
	n := len(data)
	if sink.chunkLimit > 0 && n > sink.chunkLimit {
		n = sink.chunkLimit
	}

	sink.buffer.Write(data[:n])
	return n
}

// OnEOF completes the sink
func (sink *BufferSink) OnEOF() {
	sink.done = true
	if sink.callback != nil {
		sink.callback(sink.buffer.Bytes(), nil)
	}
}

// OnError completes the sink with err
func (sink *BufferSink) OnError(err error) {
	sink.done = true
	sink.err = err
	if sink.callback != nil {
		sink.callback(sink.buffer.Bytes(), err)
	}
}
