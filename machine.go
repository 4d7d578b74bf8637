package strata

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a machine at construction time.
type Option func(*config)

type config struct {
	logger          logrus.FieldLogger
	locking         bool
	structureChecks bool
}

func defaultConfig() config {
	silent := logrus.New()
	silent.SetOutput(io.Discard)
	return config{
		logger:          silent,
		locking:         true,
		structureChecks: true,
	}
}

// WithLogger sets the structured logger the machine reports through.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithoutLocking elides the event queue mutex. The client then owns the
// single-thread guarantee: all posting and dispatching must happen on
// one goroutine.
func WithoutLocking() Option {
	return func(c *config) {
		c.locking = false
	}
}

// WithoutStructureChecks disables substate validation beyond the
// parent != substate check. Malformed nesting then produces undefined
// runtime behavior.
func WithoutStructureChecks() Option {
	return func(c *config) {
		c.structureChecks = false
	}
}

type timerRecord[E comparable] struct {
	event      E
	interval   time.Duration
	singleShot bool
	running    bool
}

// HSM is a hierarchical state machine over caller-supplied state and
// event id types. Topology is declared through the Register methods,
// the machine is bound to a host dispatcher with Initialize, and events
// are posted through the Transition family. Client callbacks run
// serialised on the dispatcher's goroutine, except guards evaluated by
// IsTransitionPossible, which run on the caller's goroutine.
type HSM[S comparable, E comparable] struct {
	topo  *topology[S, E]
	queue *eventQueue[E]

	stateMu sync.RWMutex
	current S

	lifecycleMu    sync.Mutex
	dispatcher     Dispatcher
	handlerID      HandlerID
	timerHandlerID HandlerID
	initialized    bool
	released       bool

	stopped atomic.Bool

	timersMu sync.Mutex
	timers   map[TimerID]*timerRecord[E]

	observers *observerManager[S, E]
	logger    logrus.FieldLogger
}

// New creates a machine resting in the given initial state. The machine
// is inert until Initialize binds it to a dispatcher.
func New[S comparable, E comparable](initial S, opts ...Option) *HSM[S, E] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &HSM[S, E]{
		topo:      newTopology[S, E](cfg.structureChecks),
		queue:     newEventQueue[E](cfg.locking),
		current:   initial,
		timers:    make(map[TimerID]*timerRecord[E]),
		observers: newObserverManager[S, E](),
		logger:    cfg.logger,
	}
	m.topo.note(initial)
	return m
}

// RegisterState attaches lifecycle callbacks to a state. Registration
// is idempotent; the last call for a given id wins. States referenced
// only by transitions or substate relations need no explicit
// registration.
func (m *HSM[S, E]) RegisterState(state S, onChanged StateChangedFunc, onEntering StateEnterFunc, onExiting StateExitFunc) {
	m.topo.registerState(state, onChanged, onEntering, onExiting)
}

// RegisterSubstate declares substate as a regular child of parent. The
// parent must already have an entry point.
func (m *HSM[S, E]) RegisterSubstate(parent, substate S) error {
	return m.topo.registerSubstate(parent, substate, false)
}

// RegisterSubstateEntryPoint declares substate as the child the machine
// drills into automatically whenever parent becomes current.
func (m *HSM[S, E]) RegisterSubstateEntryPoint(parent, substate S) error {
	return m.topo.registerSubstate(parent, substate, true)
}

// RegisterTransition adds an edge. Multiple edges may share the same
// (from, event) pair; the first one whose guard accepts, in
// registration order, wins.
func (m *HSM[S, E]) RegisterTransition(from, to S, event E, action TransitionAction, guard TransitionGuard) {
	m.topo.registerTransition(from, to, event, action, guard)
}

// Freeze marks the topology immutable. Later registrations are
// rejected.
func (m *HSM[S, E]) Freeze() {
	m.topo.freeze()
}

// AddObserver attaches an observer to the machine.
func (m *HSM[S, E]) AddObserver(observer Observer[S, E]) {
	m.observers.add(observer)
}

// RemoveObserver detaches an observer from the machine.
func (m *HSM[S, E]) RemoveObserver(observer Observer[S, E]) {
	m.observers.remove(observer)
}

// Topology returns a read-only snapshot of the machine's structure.
func (m *HSM[S, E]) Topology() TopologySnapshot[S, E] {
	return m.topo.snapshot(m.CurrentState())
}

// CurrentState returns the state the machine currently rests in. Valid
// before Initialize; during a transition it reflects the source state
// until entry succeeds.
func (m *HSM[S, E]) CurrentState() S {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.current
}

func (m *HSM[S, E]) setCurrentState(state S) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.current = state
}

// Initialize binds the machine to a dispatcher: starts it and registers
// the dispatch handler. Events can be posted once this returns nil.
func (m *HSM[S, E]) Initialize(dispatcher Dispatcher) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.released {
		return NewReleasedError("initialize")
	}
	if m.initialized {
		return NewAlreadyInitializedError("initialize")
	}
	if dispatcher == nil {
		return NewDispatcherStartError(fmt.Errorf("nil dispatcher"))
	}
	if err := dispatcher.Start(); err != nil {
		return NewDispatcherStartError(err)
	}

	m.dispatcher = dispatcher
	m.handlerID = dispatcher.RegisterEventHandler(m.dispatchPending)
	if ta, ok := dispatcher.(TimerAwareDispatcher); ok {
		m.timerHandlerID = ta.RegisterTimerHandler(m.timerExpired)
	}
	m.initialized = true

	m.logger.WithField("state", m.CurrentState()).Info("state machine initialized")
	m.observers.notifyMachineStarted()
	return nil
}

// Release unbinds the machine from its dispatcher. The stop flag is set
// first so a dispatch turn already scheduled does nothing, then the
// handler is unregistered and every pending latch resolves failed.
// Idempotent.
func (m *HSM[S, E]) Release() {
	m.stopped.Store(true)

	m.lifecycleMu.Lock()
	if m.released || !m.initialized {
		m.released = true
		m.lifecycleMu.Unlock()
		return
	}
	m.released = true
	if ta, ok := m.dispatcher.(TimerAwareDispatcher); ok && m.timerHandlerID != InvalidHandlerID {
		ta.UnregisterTimerHandler(m.timerHandlerID)
	}
	m.dispatcher.UnregisterEventHandler(m.handlerID)
	m.dispatcher = nil
	m.handlerID = InvalidHandlerID
	m.lifecycleMu.Unlock()

	m.queue.drain()
	m.logger.Info("state machine released")
	m.observers.notifyMachineStopped()
}

func (m *HSM[S, E]) currentDispatcher() Dispatcher {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.dispatcher
}

// Transition posts an event asynchronously.
func (m *HSM[S, E]) Transition(event E, args ...any) {
	m.TransitionEx(event, false, false, 0, args...)
}

// TransitionWithQueueClear drops the pending normal backlog, then posts
// the event. Dropped synchronous events resolve failed.
func (m *HSM[S, E]) TransitionWithQueueClear(event E, args ...any) {
	m.TransitionEx(event, true, false, 0, args...)
}

// TransitionSync posts an event and waits for it to settle. It returns
// true iff the event resolved ok before the timeout. On timeout the
// event stays queued and may still execute later. A timeout of zero or
// less waits forever.
func (m *HSM[S, E]) TransitionSync(timeout time.Duration, event E, args ...any) bool {
	return m.TransitionEx(event, false, true, timeout, args...)
}

// TransitionEx is the configurable posting primitive behind the other
// Transition methods. Asynchronous posts always report true at posting
// time; posts on an uninitialized or released machine report false.
func (m *HSM[S, E]) TransitionEx(event E, clearQueue, waitSync bool, timeout time.Duration, args ...any) bool {
	if m.stopped.Load() {
		m.logger.WithField("event", event).Debug("event dropped, machine released")
		return false
	}
	dispatcher := m.currentDispatcher()
	if dispatcher == nil {
		m.logger.WithField("event", event).Warn("event dropped, machine not initialized")
		return false
	}

	ev := pendingEvent[E]{kind: kindNormal, event: event, args: Args(args)}
	var latch *completionLatch
	if waitSync {
		latch = newCompletionLatch()
		ev.latch = latch
	}

	if clearQueue {
		m.queue.enqueueWithClear(ev)
	} else {
		m.queue.enqueue(ev)
	}

	m.logger.WithFields(logrus.Fields{
		"event": event,
		"sync":  waitSync,
		"clear": clearQueue,
	}).Debug("event posted")
	dispatcher.EmitEvent()

	if !waitSync {
		return true
	}

	status, signalled := latch.wait(timeout)
	if !signalled {
		m.logger.WithField("event", event).Warn("synchronous transition timed out")
		return false
	}
	return status == StatusOk
}

// IsTransitionPossible reports whether the event would resolve to an
// edge once the currently queued events have run. The lookahead reuses
// the candidate's args when evaluating guards of queued events. It is
// read-only and mutates neither the queue nor the state.
func (m *HSM[S, E]) IsTransitionPossible(event E, args ...any) bool {
	trialArgs := Args(args)
	from := m.CurrentState()

	for _, queued := range m.queue.snapshot() {
		edge, _, ok := m.findTransitionTarget(from, queued.event, trialArgs, false)
		if !ok {
			return false
		}
		from = edge.To
	}

	_, _, ok := m.findTransitionTarget(from, event, trialArgs, false)
	return ok
}

// dispatchPending is the handler invoked by the dispatcher. It pops one
// event, runs the transition, resolves the event's latch, and
// re-schedules itself while work remains. Pending statuses keep the
// latch open for the drilldown continuation.
func (m *HSM[S, E]) dispatchPending() {
	if m.stopped.Load() {
		return
	}

	ev, ok := m.queue.popFront()
	if !ok {
		return
	}

	status := m.doTransition(ev)
	if ev.latch != nil {
		ev.latch.signal(status)
	}

	if !m.stopped.Load() && m.queue.size() > 0 {
		if dispatcher := m.currentDispatcher(); dispatcher != nil {
			dispatcher.EmitEvent()
		}
	}
}

// doTransition resolves and executes one queued event. The queue lock
// is never held here, so callbacks may post further events.
func (m *HSM[S, E]) doTransition(ev pendingEvent[E]) TransitionStatus {
	current := m.CurrentState()

	var edge TransitionEdge[S, E]
	var source S
	resolved := false

	if ev.kind == kindDrilldown {
		if entry, ok := m.topo.entryPointOf(current); ok {
			edge = TransitionEdge[S, E]{From: current, To: entry, Event: ev.event}
			source = current
			resolved = true
		}
	} else {
		edge, source, resolved = m.findTransitionTarget(current, ev.event, ev.args, true)
	}

	if !resolved {
		m.logger.WithFields(logrus.Fields{
			"event": ev.event,
			"state": current,
		}).Debug("event ignored")
		m.observers.notifyEventRejected(ev.event, "no applicable transition")
		return StatusFailed
	}

	if edge.To == current {
		// a self edge is action-only; without an action there is
		// nothing to do and the event resolves failed
		if edge.Action != nil {
			m.safeAction(edge, ev.args)
			return StatusOk
		}
		m.observers.notifyEventRejected(ev.event, "self transition without action")
		return StatusFailed
	}

	// leaving a nested state through an ancestor's edge exits every
	// state from the leaf up to the edge's owner, leaf first. Drilling
	// into an entry point descends without leaving the parent.
	if ev.kind != kindDrilldown {
		exitChain := []S{current}
		for cur := current; cur != source; {
			parent, ok := m.topo.parentOf(cur)
			if !ok {
				break
			}
			exitChain = append(exitChain, parent)
			cur = parent
		}

		for _, state := range exitChain {
			if !m.safeExit(state) {
				m.logger.WithFields(logrus.Fields{
					"event": ev.event,
					"state": state,
				}).Debug("exit refused")
				m.observers.notifyEventRejected(ev.event, "exit refused")
				return StatusFailed
			}
			m.observers.notifyStateExit(state)
		}
	}

	if edge.Action != nil {
		m.safeAction(edge, ev.args)
	}

	if !m.safeEnter(edge.To, ev.args) {
		// re-enter with empty args so the same entry guard cannot loop
		m.safeEnter(current, Args{})
		m.safeChanged(current, Args{})
		m.logger.WithFields(logrus.Fields{
			"event": ev.event,
			"from":  current,
			"to":    edge.To,
		}).Debug("entry refused, rolled back")
		m.observers.notifyRollback(current)
		return StatusFailed
	}

	m.setCurrentState(edge.To)
	m.observers.notifyStateEnter(edge.To, ev.args)
	m.safeChanged(edge.To, ev.args)
	m.observers.notifyTransition(current, edge.To, ev.event, ev.args)
	m.logger.WithFields(logrus.Fields{
		"event": ev.event,
		"from":  current,
		"to":    edge.To,
	}).Info("transition")

	if _, ok := m.topo.entryPointOf(edge.To); ok {
		m.queue.enqueueFront(pendingEvent[E]{
			kind:  kindDrilldown,
			event: ev.event,
			args:  ev.args,
			latch: ev.latch,
		})
		return StatusPending
	}
	return StatusOk
}

// findTransitionTarget resolves (from, event) by walking up the parent
// chain until a state with edges for the event is found. Among those
// edges the first unguarded or guard-accepting one wins; if all guards
// refuse, the search does not climb further.
func (m *HSM[S, E]) findTransitionTarget(from S, event E, args Args, notifyGuards bool) (TransitionEdge[S, E], S, bool) {
	cur := from
	for {
		edges := m.topo.edgesFor(cur, event)
		if len(edges) == 0 {
			parent, ok := m.topo.parentOf(cur)
			if !ok {
				break
			}
			cur = parent
			continue
		}

		for _, edge := range edges {
			if edge.Guard == nil {
				return edge, cur, true
			}
			accepted := m.safeGuard(edge, args)
			if notifyGuards {
				m.observers.notifyGuardEvaluation(edge.From, edge.To, event, accepted)
			}
			if accepted {
				return edge, cur, true
			}
		}
		break
	}

	var zeroEdge TransitionEdge[S, E]
	var zeroState S
	return zeroEdge, zeroState, false
}

func (m *HSM[S, E]) safeExit(state S) (allowed bool) {
	cb, ok := m.topo.callbacksFor(state)
	if !ok || cb.onExiting == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{"state": state, "panic": r}).Error("panic in exit callback")
			m.observers.notifyError(fmt.Errorf("panic in onExiting for state %v: %v", state, r))
			allowed = false
		}
	}()
	return cb.onExiting()
}

func (m *HSM[S, E]) safeEnter(state S, args Args) (allowed bool) {
	cb, ok := m.topo.callbacksFor(state)
	if !ok || cb.onEntering == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{"state": state, "panic": r}).Error("panic in enter callback")
			m.observers.notifyError(fmt.Errorf("panic in onEntering for state %v: %v", state, r))
			allowed = false
		}
	}()
	return cb.onEntering(args)
}

func (m *HSM[S, E]) safeChanged(state S, args Args) {
	cb, ok := m.topo.callbacksFor(state)
	if !ok || cb.onChanged == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{"state": state, "panic": r}).Error("panic in state changed callback")
			m.observers.notifyError(fmt.Errorf("panic in onStateChanged for state %v: %v", state, r))
		}
	}()
	cb.onChanged(args)
}

func (m *HSM[S, E]) safeAction(edge TransitionEdge[S, E], args Args) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{"from": edge.From, "to": edge.To, "panic": r}).Error("panic in transition action")
			m.observers.notifyError(fmt.Errorf("panic in action %v->%v: %v", edge.From, edge.To, r))
		}
	}()
	edge.Action(args)
}

func (m *HSM[S, E]) safeGuard(edge TransitionEdge[S, E], args Args) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{"from": edge.From, "to": edge.To, "panic": r}).Error("panic in transition guard")
			m.observers.notifyError(fmt.Errorf("panic in guard %v->%v: %v", edge.From, edge.To, r))
			accepted = false
		}
	}()
	return edge.Guard(args)
}

// RegisterTimer binds a timer id to the event it posts on expiry.
func (m *HSM[S, E]) RegisterTimer(timer TimerID, event E) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if rec, ok := m.timers[timer]; ok {
		rec.event = event
		return
	}
	m.timers[timer] = &timerRecord[E]{event: event}
}

// StartTimer arms a registered timer. On expiry the bound event is
// posted through the normal queue. Requires an initialized machine and
// a timer-aware dispatcher.
func (m *HSM[S, E]) StartTimer(timer TimerID, interval time.Duration, singleShot bool) error {
	m.timersMu.Lock()
	rec, ok := m.timers[timer]
	if !ok {
		m.timersMu.Unlock()
		return NewTimerUnboundError("start timer", timer)
	}
	dispatcher := m.currentDispatcher()
	if dispatcher == nil {
		m.timersMu.Unlock()
		return NewNotInitializedError("start timer")
	}
	rec.interval = interval
	rec.singleShot = singleShot
	rec.running = true
	m.timersMu.Unlock()

	dispatcher.StartTimer(timer, interval, singleShot)
	return nil
}

// RestartTimer re-arms a timer with the interval from its last start.
func (m *HSM[S, E]) RestartTimer(timer TimerID) error {
	m.timersMu.Lock()
	rec, ok := m.timers[timer]
	if !ok || rec.interval == 0 {
		m.timersMu.Unlock()
		return NewTimerUnboundError("restart timer", timer)
	}
	dispatcher := m.currentDispatcher()
	if dispatcher == nil {
		m.timersMu.Unlock()
		return NewNotInitializedError("restart timer")
	}
	interval := rec.interval
	singleShot := rec.singleShot
	rec.running = true
	m.timersMu.Unlock()

	dispatcher.StartTimer(timer, interval, singleShot)
	return nil
}

// StopTimer disarms a timer. Unknown timers are ignored.
func (m *HSM[S, E]) StopTimer(timer TimerID) {
	m.timersMu.Lock()
	if rec, ok := m.timers[timer]; ok {
		rec.running = false
	}
	m.timersMu.Unlock()

	if dispatcher := m.currentDispatcher(); dispatcher != nil {
		dispatcher.StopTimer(timer)
	}
}

// IsTimerRunning reports whether a timer is currently armed.
func (m *HSM[S, E]) IsTimerRunning(timer TimerID) bool {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	rec, ok := m.timers[timer]
	return ok && rec.running
}

// timerExpired runs on the dispatcher goroutine for each expired timer.
func (m *HSM[S, E]) timerExpired(timer TimerID) {
	m.timersMu.Lock()
	rec, ok := m.timers[timer]
	if !ok || !rec.running {
		m.timersMu.Unlock()
		return
	}
	if rec.singleShot {
		rec.running = false
	}
	event := rec.event
	m.timersMu.Unlock()

	m.logger.WithFields(logrus.Fields{"timer": timer, "event": event}).Debug("timer expired")
	m.Transition(event)
}
