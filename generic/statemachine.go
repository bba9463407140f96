/*
statemachine.go - Explicit transition tables

PURPOSE:
  Lifecycles (commission boost, redemption status) are declared as data:
  an initial state and the allowed edges out of every state. Callers ask
  the table before writing, and audit code replays a history against it.

INVARIANTS:
  - A state with no outgoing edges is terminal.
  - A valid path starts at the initial state and follows declared edges.
  - Self-loops are never implied; re-entering a state is a no-op for the
    caller to skip, not a transition.

SEE ALSO:
  - rewards/boost.go: Commission boost lifecycle
  - rewards/ledger.go: Redemption status lifecycle
*/
package generic

import "fmt"

// StateMachine is an immutable transition table over states of type S.
type StateMachine[S comparable] struct {
	name    string
	initial S
	order   []S
	edges   map[S][]S
}

// NewStateMachine declares a machine. Every state that appears as a target
// must also appear as a key (with a nil slice if terminal).
func NewStateMachine[S comparable](name string, initial S, edges map[S][]S, order []S) *StateMachine[S] {
	cp := make(map[S][]S, len(edges))
	for from, tos := range edges {
		cp[from] = append([]S(nil), tos...)
	}
	return &StateMachine[S]{name: name, initial: initial, order: append([]S(nil), order...), edges: cp}
}

// Name identifies the machine in errors.
func (m *StateMachine[S]) Name() string { return m.name }

// Initial returns the genesis state.
func (m *StateMachine[S]) Initial() S { return m.initial }

// States returns the declared states in declaration order.
func (m *StateMachine[S]) States() []S { return append([]S(nil), m.order...) }

// Known reports whether s is a declared state.
func (m *StateMachine[S]) Known(s S) bool {
	_, ok := m.edges[s]
	return ok
}

// CanTransition reports whether from -> to is a declared edge.
func (m *StateMachine[S]) CanTransition(from, to S) bool {
	for _, t := range m.edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Targets returns the states reachable in one step from s.
func (m *StateMachine[S]) Targets(s S) []S {
	return append([]S(nil), m.edges[s]...)
}

// IsTerminal reports whether s is declared and has no outgoing edges.
func (m *StateMachine[S]) IsTerminal(s S) bool {
	tos, ok := m.edges[s]
	return ok && len(tos) == 0
}

// Validate returns a *TransitionError if from -> to is not allowed.
func (m *StateMachine[S]) Validate(from, to S) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return &TransitionError{Machine: m.name, From: fmt.Sprint(from), To: fmt.Sprint(to)}
}

// ValidatePath checks an ordered sequence of states as recorded in an
// audit trail. An empty path is valid.
func (m *StateMachine[S]) ValidatePath(path []S) error {
	if len(path) == 0 {
		return nil
	}
	if path[0] != m.initial {
		return &TransitionError{Machine: m.name, From: "(none)", To: fmt.Sprint(path[0])}
	}
	for i := 1; i < len(path); i++ {
		if err := m.Validate(path[i-1], path[i]); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
