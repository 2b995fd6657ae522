// Package event provides the single-goroutine loop that owns arenas, caches and fills.
// Objects driven by a Loop are not goroutine-safe, everything touching them runs as a loop task.
package event

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/channelqueue"
	log "github.com/sirupsen/logrus"
)

// Loop runs posted tasks and due timers
type Loop struct {
	clock clock.Clock

	queue  *channelqueue.ChannelQueue[func()]
	mutex  sync.Mutex // lock for closed and the queue input
	closed bool
	stop   chan struct{}

	timers   timerHeap
	nextSeq  uint64
	deferred []func()
}

// NewLoop creates a new Loop, a nil clock means the wall clock
func NewLoop(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}

	return &Loop{
		clock: clk,

		queue:  channelqueue.New[func()](-1),
		closed: false,
		stop:   make(chan struct{}),

		timers:   timerHeap{},
		nextSeq:  1,
		deferred: []func(){},
	}
}

// Release stops Run and rejects further posts. Pending timers are dropped.
func (loop *Loop) Release() {
	loop.mutex.Lock()
	defer loop.mutex.Unlock()

	if loop.closed {
		return
	}

	loop.closed = true
	close(loop.stop)
	close(loop.queue.In())
}

// GetClock returns the clock of the loop
func (loop *Loop) GetClock() clock.Clock {
	return loop.clock
}

// Now returns the current time of the loop clock
func (loop *Loop) Now() time.Time {
	return loop.clock.Now()
}

// GetTimerCount returns the number of pending timers
func (loop *Loop) GetTimerCount() int {
	return len(loop.timers)
}

// Post queues a task from any goroutine, returns false if the loop is released
func (loop *Loop) Post(fn func()) bool {
	loop.mutex.Lock()
	defer loop.mutex.Unlock()

	if loop.closed {
		return false
	}

	loop.queue.In() <- fn
	return true
}

// Defer queues a task from the loop goroutine, it runs on the next RunPending
func (loop *Loop) Defer(fn func()) {
	loop.deferred = append(loop.deferred, fn)
}

// Schedule registers fn to run at deadline. Must be called on the loop goroutine.
func (loop *Loop) Schedule(deadline time.Time, fn func()) *Timer {
	timer := &Timer{
		loop:     loop,
		deadline: deadline,
		seq:      loop.nextSeq,
		fn:       fn,
		index:    -1,
	}
	loop.nextSeq++

	heap.Push(&loop.timers, timer)
	return timer
}

// AfterFunc registers fn to run after duration d
func (loop *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return loop.Schedule(loop.clock.Now().Add(d), fn)
}

// RunPending runs due timers, deferred tasks and posted tasks without blocking.
// Returns the number of callbacks run.
func (loop *Loop) RunPending() int {
	total := 0
	for {
		ran := loop.runTimers() + loop.runDeferred() + loop.runPosted()
		if ran == 0 {
			return total
		}
		total += ran
	}
}

// Run drives the loop until ctx is done or the loop is released
func (loop *Loop) Run(ctx context.Context) error {
	logger := log.WithFields(log.Fields{
		"package":  "event",
		"struct":   "Loop",
		"function": "Run",
	})

	logger.Debug("starting event loop")
	defer logger.Debug("event loop stopped")

	out := loop.queue.Out()
	for {
		loop.RunPending()

		var wakeC <-chan time.Time
		var wake *clock.Timer
		if len(loop.timers) > 0 {
			wake = loop.clock.Timer(loop.clock.Until(loop.timers[0].deadline))
			wakeC = wake.C
		}

		select {
		case <-ctx.Done():
			if wake != nil {
				wake.Stop()
			}
			return ctx.Err()
		case <-loop.stop:
			if wake != nil {
				wake.Stop()
			}
			return nil
		case fn, ok := <-out:
			if !ok {
				return nil
			}
			fn()
		case <-wakeC:
		}

		if wake != nil {
			wake.Stop()
		}
	}
}

func (loop *Loop) runTimers() int {
	now := loop.clock.Now()
	ran := 0
	for len(loop.timers) > 0 && !loop.timers[0].deadline.After(now) {
		timer := heap.Pop(&loop.timers).(*Timer)
		timer.fn()
		ran++
	}
	return ran
}

func (loop *Loop) runDeferred() int {
	tasks := loop.deferred
	if len(tasks) == 0 {
		return 0
	}

	loop.deferred = []func(){}
	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

func (loop *Loop) runPosted() int {
	out := loop.queue.Out()
	ran := 0
	for {
		select {
		case fn, ok := <-out:
			if !ok {
				return ran
			}
			fn()
			ran++
		default:
			return ran
		}
	}
}
