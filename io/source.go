package io

import (
	"golang.org/x/xerrors"
)

var (
	// ErrTeeWeakAbort is delivered to weak tee branches once no strong branch is left
	ErrTeeWeakAbort error = xerrors.New("tee aborted, no strong consumer left")
	// ErrUpstreamClosed is reported by producers that lost their consumer
	ErrUpstreamClosed error = xerrors.New("source is closed")
)

// Handler receives bytes pushed by a Source
type Handler interface {
	// OnData offers bytes and returns the number consumed. Consuming less than offered
	// suspends the source until the next Read. The slice must not be retained.
	OnData(data []byte) int
	OnEOF()
	OnError(err error)
}

// Source pushes bytes to its Handler. No callback happens after EOF, error or Close.
type Source interface {
	SetHandler(handler Handler)
	// Read asks the source to push what it has, it never blocks
	Read()
	Close()
	// GetAvailable returns the number of remaining bytes, -1 if unknown.
	// If partial is true, only bytes that can be pushed right now are counted.
	GetAvailable(partial bool) int64
}

// sourceBase carries the handler and the terminal state shared by all sources
type sourceBase struct {
	handler  Handler
	finished bool

	pushing bool
	again   bool
}

// SetHandler sets the handler receiving data
func (base *sourceBase) SetHandler(handler Handler) {
	base.handler = handler
}

// IsFinished returns true after EOF, error or Close
func (base *sourceBase) IsFinished() bool {
	return base.finished
}

func (base *sourceBase) deliverData(data []byte) int {
	if base.handler == nil {
		return 0
	}

	n := base.handler.OnData(data)
	if n > len(data) {
		n = len(data)
	} else if n < 0 {
		n = 0
	}
	return n
}

func (base *sourceBase) deliverEOF() {
	if base.finished {
		return
	}

	base.finished = true
	if base.handler != nil {
		base.handler.OnEOF()
	}
}

func (base *sourceBase) deliverError(err error) {
	if base.finished {
		return
	}

	base.finished = true
	if base.handler != nil {
		base.handler.OnError(err)
	}
}

// runPush runs push, a Read from inside a callback is folded into the running push
func (base *sourceBase) runPush(push func()) {
	if base.finished {
		return
	}

	if base.pushing {
		base.again = true
		return
	}

	base.pushing = true
	defer func() {
		base.pushing = false
	}()

	for {
		base.again = false
		push()
		if !base.again || base.finished {
			return
		}
	}
}
