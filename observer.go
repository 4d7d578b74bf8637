package strata

import (
	"fmt"
	"sync"
)

// Observer represents an entity that observes state machine lifecycle
type Observer[S comparable, E comparable] interface {
	// OnTransition is called once a transition has settled on its target
	OnTransition(from S, to S, event E, args Args)

	// OnStateEnter is called when a state accepted entry
	OnStateEnter(state S, args Args)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver[S comparable, E comparable] interface {
	Observer[S, E]

	// OnStateExit is called when a state accepted exit
	OnStateExit(state S)

	// OnGuardEvaluation is called when a guard condition is evaluated
	OnGuardEvaluation(from S, to S, event E, result bool)

	// OnEventRejected is called when an event fails before entry: no
	// edge resolves, a self edge has no action, or an exit is refused.
	// Refused entries are reported through OnRollback instead.
	OnEventRejected(event E, reason string)

	// OnRollback is called when a refused entry rolled the machine back
	OnRollback(state S)

	// OnError is called when an error occurs during processing
	OnError(err error)

	// OnMachineStarted is called when the machine binds to a dispatcher
	OnMachineStarted()

	// OnMachineStopped is called when the machine is released
	OnMachineStopped()
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver[S comparable, E comparable] struct{}

// OnTransition implements the required Observer method
func (o *BaseObserver[S, E]) OnTransition(from S, to S, event E, args Args) {
	// Default implementation - no operation
}

// OnStateEnter implements the required Observer method
func (o *BaseObserver[S, E]) OnStateEnter(state S, args Args) {
	// Default implementation - no operation
}

// OnStateExit implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnStateExit(state S) {
	// Default implementation - no operation
}

// OnGuardEvaluation implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnGuardEvaluation(from S, to S, event E, result bool) {
	// Default implementation - no operation
}

// OnEventRejected implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnEventRejected(event E, reason string) {
	// Default implementation - no operation
}

// OnRollback implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnRollback(state S) {
	// Default implementation - no operation
}

// OnError implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnError(err error) {
	// Default implementation - no operation
}

// OnMachineStarted implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnMachineStarted() {
	// Default implementation - no operation
}

// OnMachineStopped implements the optional ExtendedObserver method
func (o *BaseObserver[S, E]) OnMachineStopped() {
	// Default implementation - no operation
}

// observerManager manages a collection of observers
type observerManager[S comparable, E comparable] struct {
	mu        sync.Mutex
	observers []Observer[S, E]
}

func newObserverManager[S comparable, E comparable]() *observerManager[S, E] {
	return &observerManager[S, E]{
		observers: make([]Observer[S, E], 0),
	}
}

func (om *observerManager[S, E]) add(observer Observer[S, E]) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.observers = append(om.observers, observer)
}

func (om *observerManager[S, E]) remove(observer Observer[S, E]) {
	om.mu.Lock()
	defer om.mu.Unlock()
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

func (om *observerManager[S, E]) all() []Observer[S, E] {
	om.mu.Lock()
	defer om.mu.Unlock()
	observers := make([]Observer[S, E], len(om.observers))
	copy(observers, om.observers)
	return observers
}

// notify runs fn for one observer, shielding the machine from observer
// panics. A panicking observer gets reported through its own OnError if
// it implements the extended interface.
func notify[S comparable, E comparable](observer Observer[S, E], method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
				func() {
					defer func() { _ = recover() }()
					extObs.OnError(fmt.Errorf("observer panic in %s: %v", method, r))
				}()
			}
		}
	}()
	fn()
}

// notifyTransition notifies all observers of a settled transition
func (om *observerManager[S, E]) notifyTransition(from S, to S, event E, args Args) {
	for _, observer := range om.all() {
		obs := observer
		notify[S, E](obs, "OnTransition", func() {
			obs.OnTransition(from, to, event, args)
		})
	}
}

// notifyStateEnter notifies all observers of state entry
func (om *observerManager[S, E]) notifyStateEnter(state S, args Args) {
	for _, observer := range om.all() {
		obs := observer
		notify[S, E](obs, "OnStateEnter", func() {
			obs.OnStateEnter(state, args)
		})
	}
}

// notifyStateExit notifies all observers of state exit
func (om *observerManager[S, E]) notifyStateExit(state S) {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			obs := extObs
			notify[S, E](observer, "OnStateExit", func() {
				obs.OnStateExit(state)
			})
		}
	}
}

// notifyGuardEvaluation notifies all observers of guard evaluation
func (om *observerManager[S, E]) notifyGuardEvaluation(from S, to S, event E, result bool) {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			extObs.OnGuardEvaluation(from, to, event, result)
		}
	}
}

// notifyEventRejected notifies all observers of event rejection
func (om *observerManager[S, E]) notifyEventRejected(event E, reason string) {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			extObs.OnEventRejected(event, reason)
		}
	}
}

// notifyRollback notifies all observers of an entry rollback
func (om *observerManager[S, E]) notifyRollback(state S) {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			extObs.OnRollback(state)
		}
	}
}

// notifyError notifies all observers of errors
func (om *observerManager[S, E]) notifyError(err error) {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			extObs.OnError(err)
		}
	}
}

// notifyMachineStarted notifies all observers that the machine started
func (om *observerManager[S, E]) notifyMachineStarted() {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			extObs.OnMachineStarted()
		}
	}
}

// notifyMachineStopped notifies all observers that the machine stopped
func (om *observerManager[S, E]) notifyMachineStopped() {
	for _, observer := range om.all() {
		if extObs, ok := observer.(ExtendedObserver[S, E]); ok {
			extObs.OnMachineStopped()
		}
	}
}
