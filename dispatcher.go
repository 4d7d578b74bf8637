package strata

import (
	"time"

	"github.com/google/uuid"
)

// HandlerID identifies a registered dispatcher handler.
type HandlerID string

// InvalidHandlerID is returned when registration fails.
const InvalidHandlerID HandlerID = ""

// NewHandlerID mints a unique handler id. Dispatcher implementations
// use it for handler registration.
func NewHandlerID() HandlerID {
	return HandlerID(uuid.New().String())
}

// TimerID identifies a client-defined timer.
type TimerID int

// Dispatcher is the host event loop the machine binds to. The engine
// only requires that EmitEvent causes every registered handler to be
// invoked once, on the dispatcher's own goroutine, after the current
// call turn, with no overlap between invocations. Coalescing multiple
// EmitEvent calls into one invocation is permitted; the engine
// compensates by re-emitting while its queue is non-empty.
type Dispatcher interface {
	// Start prepares the host loop. Idempotent.
	Start() error

	// RegisterEventHandler attaches a wake callback.
	RegisterEventHandler(fn func()) HandlerID

	// UnregisterEventHandler detaches a previously registered callback.
	UnregisterEventHandler(id HandlerID)

	// EmitEvent requests that registered handlers run at the next turn.
	EmitEvent()

	// StartTimer arms a timer. Expiry is delivered to timer handlers on
	// the dispatcher's goroutine.
	StartTimer(id TimerID, interval time.Duration, singleShot bool)

	// StopTimer disarms a timer. Stopping an unknown timer is a no-op.
	StopTimer(id TimerID)
}

// TimerAwareDispatcher is implemented by dispatchers that can deliver
// timer expiry notifications. The machine uses it to drive delayed
// events bound through RegisterTimer.
type TimerAwareDispatcher interface {
	Dispatcher

	// RegisterTimerHandler attaches a callback invoked with the id of
	// each expired timer, serialised with event handlers.
	RegisterTimerHandler(fn func(id TimerID)) HandlerID

	// UnregisterTimerHandler detaches a timer callback.
	UnregisterTimerHandler(id HandlerID)
}
