package io

import (
	"github.com/cyverse/rubbercache/rubber"
)

// RubberSource pushes the bytes of one rubber allocation without copying.
// The arena view is taken again on every push since Compress may move the allocation between pushes.
type RubberSource struct {
	sourceBase

	rubber   *rubber.Rubber
	id       rubber.ID
	size     int
	position int
}

// NewRubberSource creates a new RubberSource over the first size bytes of the allocation
func NewRubberSource(rub *rubber.Rubber, id rubber.ID, size int) *RubberSource {
	return &RubberSource{
		rubber:   rub,
		id:       id,
		size:     size,
		position: 0,
	}
}

// Read pushes the remaining bytes
func (source *RubberSource) Read() {
	if source.handler == nil {
		return
	}

	source.runPush(source.push)
}

// Close closes the source without any callback
func (source *RubberSource) Close() {
	source.finished = true
}

// GetAvailable returns the number of bytes not consumed yet
func (source *RubberSource) GetAvailable(partial bool) int64 {
	if source.finished {
		return 0
	}
	return int64(source.size - source.position)
}

func (source *RubberSource) push() {
	for source.position < source.size {
		offered := source.rubber.Read(source.id)[source.position:source.size]
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
