package strata

import (
	"sync"
	"time"
)

// completionLatch carries the final status of a synchronously posted
// event back to its caller. It is shared between the poster and any
// drilldown continuations; the first terminal status wins and later
// signals are discarded.
type completionLatch struct {
	once sync.Once
	ch   chan TransitionStatus
}

func newCompletionLatch() *completionLatch {
	return &completionLatch{
		ch: make(chan TransitionStatus, 1),
	}
}

// signal records a terminal status. Pending is ignored so the latch can
// be handed through a drilldown chain untouched.
func (l *completionLatch) signal(status TransitionStatus) {
	if status == StatusPending {
		return
	}
	l.once.Do(func() {
		l.ch <- status
	})
}

// wait blocks until the latch is signalled or the timeout elapses.
// A timeout does not consume the latch; the event stays queued and may
// still execute later.
func (l *completionLatch) wait(timeout time.Duration) (TransitionStatus, bool) {
	if timeout <= 0 {
		status := <-l.ch
		return status, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-l.ch:
		return status, true
	case <-timer.C:
		return StatusPending, false
	}
}
