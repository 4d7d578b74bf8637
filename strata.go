// Package strata implements a hierarchical finite state machine runtime.
//
// A client declares states, substate nesting with entry points, and
// transition edges with optional guards and actions, then binds the
// machine to a host event dispatcher. Events are posted asynchronously
// through the Transition family of methods; the dispatcher drives the
// transition algorithm on its own goroutine, invoking the client's
// callbacks on state exit, transition, entry, and settled state change.
//
// Basic usage:
//
//	hsm := strata.New[string, string]("idle")
//	hsm.RegisterState("running", onRunning, nil, nil)
//	hsm.RegisterTransition("idle", "running", "start", nil, nil)
//
//	d := strata.NewLoopDispatcher()
//	if err := hsm.Initialize(d); err != nil {
//	    log.Fatal(err)
//	}
//	defer hsm.Release()
//
//	hsm.Transition("start")
package strata

// TransitionStatus is the outcome of processing a single queued event.
type TransitionStatus int

const (
	// StatusPending means the event has not yet reached a terminal
	// outcome. An outer transition into a composite state stays
	// pending until its entry-point drilldown settles.
	StatusPending TransitionStatus = iota

	// StatusOk means the transition completed.
	StatusOk

	// StatusFailed means no edge matched, a guard or callback refused,
	// or the event was dropped before it could run.
	StatusFailed
)

// String returns a readable form of the status.
func (s TransitionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOk:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChangedFunc is invoked once a state is settled as current.
type StateChangedFunc func(args Args)

// StateEnterFunc is asked for permission to enter a state. Returning
// false rolls the transition back to the previous state.
type StateEnterFunc func(args Args) bool

// StateExitFunc is asked for permission to leave a state. Returning
// false aborts the transition.
type StateExitFunc func() bool

// TransitionAction runs between exit and enter of a transition.
type TransitionAction func(args Args)

// TransitionGuard gates an edge. The first edge for a (state, event)
// pair whose guard accepts, in registration order, is selected.
type TransitionGuard func(args Args) bool
