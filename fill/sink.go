package fill

import (
	"errors"
	"time"

	"github.com/cyverse/rubbercache/event"
	"github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/rubber"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
)

// Outcome is the terminal state of a fill
type Outcome int

const (
	// OutcomeNone means the fill is still running
	OutcomeNone Outcome = iota
	// OutcomeSuccess means the body was committed to the cache
	OutcomeSuccess
	// OutcomeTooLarge means more bytes arrived than expected or allowed
	OutcomeTooLarge
	// OutcomeTimeout means the fill deadline fired first
	OutcomeTimeout
	// OutcomeUpstreamError means the upstream failed or ended early
	OutcomeUpstreamError
	// OutcomeAborted means the primary consumer went away
	OutcomeAborted
	// OutcomeOutOfMemory means no allocation could be made
	OutcomeOutOfMemory
)

// String returns the name of the outcome
func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeNone:
		return "none"
	case OutcomeSuccess:
		return "success"
	case OutcomeTooLarge:
		return "too_large"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUpstreamError:
		return "upstream_error"
	case OutcomeAborted:
		return "aborted"
	case OutcomeOutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}

// Sink is the fill branch of one request. It copies every byte offered into its allocation
// and never holds back the primary consumer. Failures end the fill silently.
type Sink struct {
	id      xid.ID
	store   *Store
	request FillRequest
	source  io.Source

	expected int64 // -1 for unknown
	reserved int
	allocID  rubber.ID
	written  int

	timer   *event.Timer
	started time.Time
	outcome Outcome
}

func newSink(store *Store, request FillRequest, expected int64) (*Sink, error) {
	reserve := store.config.MaxSize
	if expected >= 0 {
		reserve = expected
	}

	allocID, err := store.allocate(int(reserve))
	if err != nil {
		return nil, err
	}

	sink := &Sink{
		id:      xid.New(),
		store:   store,
		request: request,

		expected: expected,
		reserved: int(reserve),
		allocID:  allocID,
		written:  0,

		started: store.loop.Now(),
		outcome: OutcomeNone,
	}

	sink.timer = store.loop.AfterFunc(store.config.Timeout, sink.onTimeout)
	return sink, nil
}

// GetID returns the correlation id of the fill
func (sink *Sink) GetID() string {
	return sink.id.String()
}

// GetKey returns the cache key being filled
func (sink *Sink) GetKey() string {
	return sink.request.GetKey()
}

// GetOutcome returns the outcome, OutcomeNone while running
func (sink *Sink) GetOutcome() Outcome {
	return sink.outcome
}

// GetWrittenSize returns the number of bytes stored so far
func (sink *Sink) GetWrittenSize() int {
	return sink.written
}

// GetExpectedSize returns the expected body size, -1 if unknown
func (sink *Sink) GetExpectedSize() int64 {
	return sink.expected
}

func (sink *Sink) attach(source io.Source) {
	sink.source = source
	source.SetHandler(sink)
	source.Read()
}

// OnData stores data, all bytes are always consumed
func (sink *Sink) OnData(data []byte) int {
	if sink.outcome != OutcomeNone {
		return len(data)
	}

	if sink.written+len(data) > sink.reserved {
		sink.finish(OutcomeTooLarge)
		return len(data)
	}

	copy(sink.store.rubber.Write(sink.allocID)[sink.written:], data)
	sink.written += len(data)

	if sink.expected >= 0 && int64(sink.written) == sink.expected {
		sink.commit()
	}
	return len(data)
}

// OnEOF commits a body of unknown size, a short body of known size is an upstream error
func (sink *Sink) OnEOF() {
	if sink.outcome != OutcomeNone {
		return
	}

	if sink.expected >= 0 && int64(sink.written) != sink.expected {
		sink.finish(OutcomeUpstreamError)
		return
	}

	sink.commit()
}

// OnError ends the fill
func (sink *Sink) OnError(err error) {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"struct":   "Sink",
		"function": "OnError",
	})

	if sink.outcome != OutcomeNone {
		return
	}

	if errors.Is(err, io.ErrTeeWeakAbort) {
		sink.finish(OutcomeAborted)
		return
	}

	logger.WithError(err).Debugf("fill %s of %q failed", sink.id, sink.request.GetKey())
	sink.finish(OutcomeUpstreamError)
}

func (sink *Sink) onTimeout() {
	sink.timer = nil
	if sink.outcome != OutcomeNone {
		return
	}

	sink.finish(OutcomeTimeout)
}

// abort ends a running fill without committing
func (sink *Sink) abort() {
	if sink.outcome != OutcomeNone {
		return
	}

	sink.finish(OutcomeAborted)
}

func (sink *Sink) commit() {
	if sink.expected < 0 && sink.written < sink.reserved {
		sink.store.rubber.Shrink(sink.allocID, sink.written)
	}

	base := NewItem(sink.store.rubber, sink.allocID, sink.written, sink.store.loop.Now().Add(sink.store.config.TTL))
	// the item owns the allocation from here, even if the cache rejects it
	sink.allocID = rubber.NoID

	item := sink.request.NewItem(base)
	sink.store.cache.PutMatch(sink.request.GetKey(), item, sink.request.Match)

	sink.finish(OutcomeSuccess)
}

func (sink *Sink) finish(outcome Outcome) {
	logger := log.WithFields(log.Fields{
		"package":  "fill",
		"struct":   "Sink",
		"function": "finish",
	})

	sink.outcome = outcome

	if sink.timer != nil {
		sink.timer.Cancel()
		sink.timer = nil
	}

	if sink.allocID != rubber.NoID {
		sink.store.rubber.Remove(sink.allocID)
		sink.allocID = rubber.NoID
	}

	logger.Debugf("fill %s of %q ended with %s after %d bytes in %v", sink.id, sink.request.GetKey(), outcome, sink.written, sink.store.loop.Now().Sub(sink.started))

	sink.store.fillDone(sink)

	// detach from the tee, the primary consumer keeps going
	if sink.source != nil {
		sink.source.Close()
	}
}
