package strata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalObserver implements only the required Observer interface.
type minimalObserver struct {
	transitions int
	enters      int
}

func (o *minimalObserver) OnTransition(from, to, event string, args Args) { o.transitions++ }
func (o *minimalObserver) OnStateEnter(state string, args Args)           { o.enters++ }

// panickingObserver blows up on transitions and records what its own
// OnError receives.
type panickingObserver struct {
	BaseObserver[string, string]
	errs []error
}

func (o *panickingObserver) OnTransition(from, to, event string, args Args) { panic("observer bug") }
func (o *panickingObserver) OnError(err error)                              { o.errs = append(o.errs, err) }

func TestBaseObserverSatisfiesExtendedInterface(t *testing.T) {
	var _ ExtendedObserver[string, string] = &BaseObserver[string, string]{}
}

func TestMinimalObserverReceivesRequiredNotifications(t *testing.T) {
	m := CreateToggleMachine()
	obs := &minimalObserver{}
	m.AddObserver(obs)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")

	assert.Equal(t, 1, obs.transitions)
	assert.Equal(t, 1, obs.enters)
}

func TestRemoveObserver(t *testing.T) {
	m := CreateToggleMachine()
	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")
	m.RemoveObserver(recorder)
	m.Transition("e")

	assert.Equal(t, 1, recorder.TransitionCount())
}

func TestMultipleObservers(t *testing.T) {
	m := CreateToggleMachine()
	first := NewRecorderObserver[string, string]()
	second := NewRecorderObserver[string, string]()
	m.AddObserver(first)
	m.AddObserver(second)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")

	assert.Equal(t, 1, first.TransitionCount())
	assert.Equal(t, 1, second.TransitionCount())
}

func TestObserverPanicIsContained(t *testing.T) {
	m := CreateToggleMachine()
	bad := &panickingObserver{}
	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(bad)
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")

	// the machine still transitioned and other observers still ran
	AssertCurrentState(t, m, "B")
	assert.Equal(t, 1, recorder.TransitionCount())

	require.Len(t, bad.errs, 1)
	assert.Contains(t, bad.errs[0].Error(), "OnTransition")
}

func TestObserverManagerCopyBeforeNotify(t *testing.T) {
	om := newObserverManager[string, string]()
	recorder := NewRecorderObserver[string, string]()

	// removing from inside a notification must not corrupt the walk
	remover := &removeOnTransition{om: om}
	om.add(remover)
	om.add(recorder)
	remover.target = remover

	om.notifyTransition("A", "B", "e", nil)

	assert.Equal(t, 1, recorder.TransitionCount())
	assert.Len(t, om.all(), 1)
}

type removeOnTransition struct {
	BaseObserver[string, string]
	om     *observerManager[string, string]
	target Observer[string, string]
}

func (o *removeOnTransition) OnTransition(from, to, event string, args Args) {
	o.om.remove(o.target)
}
