package io

// NilSource is an empty source, it reports EOF on the first Read
type NilSource struct {
	sourceBase
}

// NewNilSource creates a new NilSource
func NewNilSource() *NilSource {
	return &NilSource{}
}

// Read reports EOF
func (source *NilSource) Read() {
	if source.handler == nil {
		return
	}

	source.deliverEOF()
}

// Close closes the source
func (source *NilSource) Close() {
	source.finished = true
}

// GetAvailable returns 0
func (source *NilSource) GetAvailable(partial bool) int64 {
	return 0
}
