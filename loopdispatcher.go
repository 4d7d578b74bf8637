package strata

import (
	"sync"
	"time"
)

// LoopDispatcher is a self-contained dispatcher backed by a single
// goroutine. Wake-up requests coalesce through a buffered channel and
// handlers run serialised on the loop goroutine, which satisfies the
// ordering guarantees the engine relies on. Timers are armed with
// time.AfterFunc and delivered through the same loop.
type LoopDispatcher struct {
	mu            sync.Mutex
	handlers      map[HandlerID]func()
	handlerOrder  []HandlerID
	timerHandlers map[HandlerID]func(TimerID)
	timerOrder    []HandlerID
	timers        map[TimerID]*loopTimer
	wake          chan struct{}
	fired         chan TimerID
	quit          chan struct{}
	started       bool
	stopped       bool
	wg            sync.WaitGroup
}

type loopTimer struct {
	timer      *time.Timer
	interval   time.Duration
	singleShot bool
}

// NewLoopDispatcher creates a dispatcher. Call Start to spin up the
// loop goroutine and Stop to shut it down.
func NewLoopDispatcher() *LoopDispatcher {
	return &LoopDispatcher{
		handlers:      make(map[HandlerID]func()),
		timerHandlers: make(map[HandlerID]func(TimerID)),
		timers:        make(map[TimerID]*loopTimer),
		wake:          make(chan struct{}, 1),
		fired:         make(chan TimerID, 16),
		quit:          make(chan struct{}),
	}
}

// Start launches the loop goroutine. Idempotent.
func (d *LoopDispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return NewDispatcherStartError(nil)
	}
	if d.started {
		return nil
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
	return nil
}

// Stop terminates the loop goroutine and disarms all timers. The call
// returns once the loop has drained.
func (d *LoopDispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.stopped = true
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for id, lt := range d.timers {
		lt.timer.Stop()
		delete(d.timers, id)
	}
	close(d.quit)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *LoopDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
			d.invokeHandlers()
		case id := <-d.fired:
			d.invokeTimerHandlers(id)
		}
	}
}

func (d *LoopDispatcher) invokeHandlers() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.handlerOrder))
	for _, id := range d.handlerOrder {
		if fn, ok := d.handlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (d *LoopDispatcher) invokeTimerHandlers(timer TimerID) {
	d.mu.Lock()
	fns := make([]func(TimerID), 0, len(d.timerOrder))
	for _, id := range d.timerOrder {
		if fn, ok := d.timerHandlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(timer)
	}
}

// RegisterEventHandler attaches a wake callback and returns its id.
func (d *LoopDispatcher) RegisterEventHandler(fn func()) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := NewHandlerID()
	d.handlers[id] = fn
	d.handlerOrder = append(d.handlerOrder, id)
	return id
}

// UnregisterEventHandler detaches a wake callback.
func (d *LoopDispatcher) UnregisterEventHandler(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, id)
	d.handlerOrder = removeHandlerID(d.handlerOrder, id)
}

// RegisterTimerHandler attaches a timer expiry callback.
func (d *LoopDispatcher) RegisterTimerHandler(fn func(TimerID)) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := NewHandlerID()
	d.timerHandlers[id] = fn
	d.timerOrder = append(d.timerOrder, id)
	return id
}

// UnregisterTimerHandler detaches a timer expiry callback.
func (d *LoopDispatcher) UnregisterTimerHandler(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.timerHandlers, id)
	d.timerOrder = removeHandlerID(d.timerOrder, id)
}

// EmitEvent schedules a handler turn. Multiple calls before the loop
// gets to run coalesce into one turn.
func (d *LoopDispatcher) EmitEvent() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// StartTimer arms a timer, replacing any previous timer with the same
// id.
func (d *LoopDispatcher) StartTimer(id TimerID, interval time.Duration, singleShot bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if existing, ok := d.timers[id]; ok {
		existing.timer.Stop()
	}
	lt := &loopTimer{interval: interval, singleShot: singleShot}
	lt.timer = time.AfterFunc(interval, func() {
		d.timerExpired(id)
	})
	d.timers[id] = lt
}

// StopTimer disarms a timer. Unknown ids are ignored.
func (d *LoopDispatcher) StopTimer(id TimerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lt, ok := d.timers[id]; ok {
		lt.timer.Stop()
		delete(d.timers, id)
	}
}

func (d *LoopDispatcher) timerExpired(id TimerID) {
	select {
	case d.fired <- id:
	case <-d.quit:
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	lt, ok := d.timers[id]
	if !ok {
		return
	}
	if lt.singleShot {
		delete(d.timers, id)
		return
	}
	lt.timer.Reset(lt.interval)
}

func removeHandlerID(ids []HandlerID, id HandlerID) []HandlerID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
