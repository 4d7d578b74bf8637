package strata

// TransitionEdge connects two states through an event, optionally gated
// by a guard and carrying an action that runs between exit and enter.
type TransitionEdge[S comparable, E comparable] struct {
	From   S
	To     S
	Event  E
	Action TransitionAction
	Guard  TransitionGuard
}

type stateCallbacks struct {
	onChanged  StateChangedFunc
	onEntering StateEnterFunc
	onExiting  StateExitFunc
}

func (cb stateCallbacks) empty() bool {
	return cb.onChanged == nil && cb.onEntering == nil && cb.onExiting == nil
}

type edgeKey[S comparable, E comparable] struct {
	from  S
	event E
}

// topology stores state callbacks, substate relations, entry points and
// transition edges. It is populated during the registration phase and
// treated as immutable once events start dispatching, so lookups are
// lock-free.
type topology[S comparable, E comparable] struct {
	callbacks   map[S]stateCallbacks
	parents     map[S]S
	entryPoints map[S]S
	edges       map[edgeKey[S, E]][]TransitionEdge[S, E]
	ordered     []TransitionEdge[S, E]
	known       map[S]struct{}
	stateOrder  []S
	safeChecks  bool
	frozen      bool
}

func newTopology[S comparable, E comparable](safeChecks bool) *topology[S, E] {
	return &topology[S, E]{
		callbacks:   make(map[S]stateCallbacks),
		parents:     make(map[S]S),
		entryPoints: make(map[S]S),
		edges:       make(map[edgeKey[S, E]][]TransitionEdge[S, E]),
		known:       make(map[S]struct{}),
		safeChecks:  safeChecks,
	}
}

func (t *topology[S, E]) note(state S) {
	if _, ok := t.known[state]; ok {
		return
	}
	t.known[state] = struct{}{}
	t.stateOrder = append(t.stateOrder, state)
}

// registerState attaches callbacks to a state. The last registration
// for a given id wins; callbacks are stored only when at least one is
// set.
func (t *topology[S, E]) registerState(state S, onChanged StateChangedFunc, onEntering StateEnterFunc, onExiting StateExitFunc) {
	if t.frozen {
		return
	}
	t.note(state)
	cb := stateCallbacks{
		onChanged:  onChanged,
		onEntering: onEntering,
		onExiting:  onExiting,
	}
	if cb.empty() {
		return
	}
	t.callbacks[state] = cb
}

// registerSubstate declares child as a substate of parent. With
// structure checks enabled it rejects self-nesting, double parenting,
// cycles, regular substates before the entry point, and duplicate entry
// points. In performance mode only the parent != substate check remains.
func (t *topology[S, E]) registerSubstate(parent, substate S, isEntryPoint bool) error {
	if t.frozen {
		return NewTopologyFrozenError(parent, substate)
	}
	if parent == substate {
		return NewSelfNestingError(parent)
	}

	if t.safeChecks {
		if existing, ok := t.parents[substate]; ok {
			return NewParentConflictError(parent, substate, existing)
		}

		cur := parent
		for {
			up, ok := t.parents[cur]
			if !ok {
				break
			}
			if up == substate {
				return NewNestingCycleError(parent, substate)
			}
			cur = up
		}

		existing, hasEntry := t.entryPoints[parent]
		if !isEntryPoint && !hasEntry {
			return NewMissingEntryPointError(parent, substate)
		}
		if isEntryPoint && hasEntry {
			return NewDuplicateEntryPointError(parent, substate, existing)
		}
	}

	if isEntryPoint {
		t.entryPoints[parent] = substate
	}
	t.parents[substate] = parent
	t.note(parent)
	t.note(substate)
	return nil
}

// registerTransition always succeeds. Duplicate (from, event) keys are
// allowed; insertion order defines priority among them.
func (t *topology[S, E]) registerTransition(from, to S, event E, action TransitionAction, guard TransitionGuard) {
	if t.frozen {
		return
	}
	edge := TransitionEdge[S, E]{
		From:   from,
		To:     to,
		Event:  event,
		Action: action,
		Guard:  guard,
	}
	key := edgeKey[S, E]{from: from, event: event}
	t.edges[key] = append(t.edges[key], edge)
	t.ordered = append(t.ordered, edge)
	t.note(from)
	t.note(to)
}

func (t *topology[S, E]) edgesFor(from S, event E) []TransitionEdge[S, E] {
	return t.edges[edgeKey[S, E]{from: from, event: event}]
}

func (t *topology[S, E]) parentOf(state S) (S, bool) {
	p, ok := t.parents[state]
	return p, ok
}

func (t *topology[S, E]) entryPointOf(state S) (S, bool) {
	ep, ok := t.entryPoints[state]
	return ep, ok
}

func (t *topology[S, E]) callbacksFor(state S) (stateCallbacks, bool) {
	cb, ok := t.callbacks[state]
	return cb, ok
}

func (t *topology[S, E]) freeze() {
	t.frozen = true
}

// EdgeInfo describes one transition edge in a topology snapshot.
type EdgeInfo[S comparable, E comparable] struct {
	From      S
	To        S
	Event     E
	Guarded   bool
	HasAction bool
}

// TopologySnapshot is a read-only view of a machine's structure, in
// registration order. Used by the visualization package.
type TopologySnapshot[S comparable, E comparable] struct {
	States      []S
	Parents     map[S]S
	EntryPoints map[S]S
	Edges       []EdgeInfo[S, E]
	Current     S
}

func (t *topology[S, E]) snapshot(current S) TopologySnapshot[S, E] {
	snap := TopologySnapshot[S, E]{
		States:      make([]S, len(t.stateOrder)),
		Parents:     make(map[S]S, len(t.parents)),
		EntryPoints: make(map[S]S, len(t.entryPoints)),
		Edges:       make([]EdgeInfo[S, E], 0, len(t.ordered)),
		Current:     current,
	}
	copy(snap.States, t.stateOrder)
	for k, v := range t.parents {
		snap.Parents[k] = v
	}
	for k, v := range t.entryPoints {
		snap.EntryPoints[k] = v
	}
	for _, e := range t.ordered {
		snap.Edges = append(snap.Edges, EdgeInfo[S, E]{
			From:      e.From,
			To:        e.To,
			Event:     e.Event,
			Guarded:   e.Guard != nil,
			HasAction: e.Action != nil,
		})
	}
	return snap
}
