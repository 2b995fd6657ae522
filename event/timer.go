package event

import (
	"container/heap"
	"time"
)

// Timer is a one-shot deadline callback fired on the loop goroutine
type Timer struct {
	loop     *Loop
	deadline time.Time
	seq      uint64
	fn       func()
	index    int // position in the heap, -1 when fired or canceled
}

// GetDeadline returns the absolute time the timer fires at
func (timer *Timer) GetDeadline() time.Time {
	return timer.deadline
}

// IsPending returns true if the timer has neither fired nor been canceled
func (timer *Timer) IsPending() bool {
	return timer.index >= 0
}

// Cancel stops the timer, returns false if it already fired or was canceled.
// Must be called on the loop goroutine.
func (timer *Timer) Cancel() bool {
	if timer.index < 0 {
		return false
	}

	heap.Remove(&timer.loop.timers, timer.index)
	return true
}

// timerHeap orders timers by deadline, then by scheduling order
type timerHeap []*Timer

func (timers timerHeap) Len() int {
	return len(timers)
}

func (timers timerHeap) Less(i, j int) bool {
	if timers[i].deadline.Equal(timers[j].deadline) {
		return timers[i].seq < timers[j].seq
	}
	return timers[i].deadline.Before(timers[j].deadline)
}

func (timers timerHeap) Swap(i, j int) {
	timers[i], timers[j] = timers[j], timers[i]
	timers[i].index = i
	timers[j].index = j
}

func (timers *timerHeap) Push(x interface{}) {
	timer := x.(*Timer)
	timer.index = len(*timers)
	*timers = append(*timers, timer)
}

func (timers *timerHeap) Pop() interface{} {
	old := *timers
	n := len(old)
	timer := old[n-1]
	old[n-1] = nil
	timer.index = -1
	*timers = old[:n-1]
	return timer
}
