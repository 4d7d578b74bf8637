package strata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryPointDrilldown(t *testing.T) {
	m := CreateNestedMachine()
	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	ok := m.TransitionSync(time.Second, "e")

	assert.True(t, ok)
	AssertCurrentState(t, m, "C1")
	assert.Equal(t, []string{"A"}, recorder.Exits)
	AssertEnteredSequence(t, recorder, []string{"P", "C1"})
	require.Equal(t, 2, recorder.TransitionCount())
	assert.Equal(t, "P", recorder.Transitions[0].To)
	assert.Equal(t, "C1", recorder.Transitions[1].To)
}

func TestDrilldownCallbackSequence(t *testing.T) {
	var trace []string
	note := func(s string) func(Args) { return func(Args) { trace = append(trace, s) } }

	m := New[string, string]("A")
	require.NoError(t, m.RegisterSubstateEntryPoint("P", "C1"))
	m.RegisterTransition("A", "P", "e", nil, nil)
	m.RegisterState("A", nil, nil, func() bool { trace = append(trace, "A.exiting"); return true })
	m.RegisterState("P", note("P.changed"), func(a Args) bool { trace = append(trace, "P.entering"); return true }, nil)
	m.RegisterState("C1", note("C1.changed"), func(a Args) bool { trace = append(trace, "C1.entering"); return true }, nil)

	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")

	assert.Equal(t, []string{"A.exiting", "P.entering", "P.changed", "C1.entering", "C1.changed"}, trace)
}

func TestDrilldownCarriesEventArgs(t *testing.T) {
	var entryArgs Args

	m := New[string, string]("A")
	require.NoError(t, m.RegisterSubstateEntryPoint("P", "C1"))
	m.RegisterTransition("A", "P", "e", nil, nil)
	m.RegisterState("C1", nil, func(a Args) bool { entryArgs = a; return true }, nil)

	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e", "deep")

	assert.Equal(t, Args{"deep"}, entryArgs)
}

func TestNestedEntryPointChain(t *testing.T) {
	m := New[string, string]("A")
	require.NoError(t, m.RegisterSubstateEntryPoint("P", "Q"))
	require.NoError(t, m.RegisterSubstateEntryPoint("Q", "C"))
	m.RegisterTransition("A", "P", "e", nil, nil)

	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	ok := m.TransitionSync(time.Second, "e")

	assert.True(t, ok)
	AssertCurrentState(t, m, "C")
	AssertEnteredSequence(t, recorder, []string{"P", "Q", "C"})
}

func TestBubblingExitsChain(t *testing.T) {
	m := CreateNestedMachine()
	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")
	AssertCurrentState(t, m, "C1")
	recorder.Reset()

	// x is handled by the edge on P while resting in the leaf C1
	ok := m.TransitionSync(time.Second, "x")

	assert.True(t, ok)
	AssertCurrentState(t, m, "A")
	assert.Equal(t, []string{"C1", "P"}, recorder.Exits)
	AssertEnteredSequence(t, recorder, []string{"A"})
}

func TestBubblingFromDeepLeaf(t *testing.T) {
	m := New[string, string]("A")
	require.NoError(t, m.RegisterSubstateEntryPoint("P", "Q"))
	require.NoError(t, m.RegisterSubstateEntryPoint("Q", "C"))
	m.RegisterTransition("A", "P", "e", nil, nil)
	m.RegisterTransition("P", "A", "x", nil, nil)

	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")
	AssertCurrentState(t, m, "C")
	recorder.Reset()

	m.Transition("x")

	AssertCurrentState(t, m, "A")
	assert.Equal(t, []string{"C", "Q", "P"}, recorder.Exits)
}

func TestChildEdgeShadowsParent(t *testing.T) {
	m := CreateNestedMachine()
	m.RegisterTransition("P", "A", "next", nil, nil)

	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")
	AssertCurrentState(t, m, "C1")

	// C1 owns an edge for next, so the parent's edge is never consulted
	m.Transition("next")
	AssertCurrentState(t, m, "C2")
}

func TestRefusedGuardsDoNotBubble(t *testing.T) {
	m := CreateNestedMachine()
	m.RegisterTransition("C1", "C2", "z", nil, func(Args) bool { return false })
	m.RegisterTransition("P", "A", "z", nil, nil)

	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")
	AssertCurrentState(t, m, "C1")
	recorder.Reset()

	// a refusing guard on the child stops resolution without climbing
	ok := m.TransitionSync(time.Second, "z")

	assert.False(t, ok)
	AssertCurrentState(t, m, "C1")
	assert.Equal(t, 1, recorder.RejectionCount())
}

func TestDrilldownEntryRefusal(t *testing.T) {
	m := New[string, string]("A")
	require.NoError(t, m.RegisterSubstateEntryPoint("P", "C1"))
	m.RegisterTransition("A", "P", "e", nil, nil)
	m.RegisterState("C1", nil, func(Args) bool { return false }, nil)

	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	ok := m.TransitionSync(time.Second, "e")

	// the outer transition settled on P; the refused drilldown leaves it there
	assert.False(t, ok)
	AssertCurrentState(t, m, "P")
	assert.Equal(t, []string{"P"}, recorder.Rollbacks)
}

func TestDrilldownDoesNotExitParent(t *testing.T) {
	exits := 0

	m := New[string, string]("A")
	require.NoError(t, m.RegisterSubstateEntryPoint("P", "C1"))
	m.RegisterTransition("A", "P", "e", nil, nil)
	m.RegisterState("P", nil, nil, func() bool { exits++; return true })

	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")

	AssertCurrentState(t, m, "C1")
	assert.Equal(t, 0, exits, "descending into the entry point must not exit the parent")
}

func TestTransitionBetweenSiblings(t *testing.T) {
	m := CreateNestedMachine()
	recorder := NewRecorderObserver[string, string]()
	m.AddObserver(recorder)
	require.NoError(t, m.Initialize(NewImmediateDispatcher()))
	defer m.Release()

	m.Transition("e")
	recorder.Reset()

	m.Transition("next")

	AssertCurrentState(t, m, "C2")
	assert.Equal(t, []string{"C1"}, recorder.Exits)
	AssertEnteredSequence(t, recorder, []string{"C2"})
}
