package io

// MemorySource pushes a fixed byte slice
type MemorySource struct {
	sourceBase

	data     []byte
	position int
}

// NewMemorySource creates a new MemorySource, data is not copied
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{
		data:     data,
		position: 0,
	}
}

// Read pushes the remaining bytes
func (source *MemorySource) Read() {
	if source.handler == nil {
		return
	}

	source.runPush(source.push)
}

// Close closes the source without any callback
func (source *MemorySource) Close() {
	source.finished = true
	source.data = nil
}

// GetAvailable returns the number of bytes not consumed yet
func (source *MemorySource) GetAvailable(partial bool) int64 {
	if source.finished {
		return 0
	}
	return int64(len(source.data) - source.position)
}

func (source *MemorySource) push() {
	for source.position < len(source.data) {
		offered := source.data[source.position:]
		n := source.deliverData(offered)
		if source.finished {
			return
		}

		source.position += n
		if n < len(offered) {
			return
		}
	}

	source.deliverEOF()
}
