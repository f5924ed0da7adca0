package svctree

import (
	"context"
	"sync"
	"time"
)

// Transition records one state change
type Transition struct {
	Event Event
	From  State
	To    State
	At    time.Time
}

// StateMachine is a table-driven finite state machine. Firing an event runs
// the rule's callback, clears every wait gate, enters the target state and
// sets the target's gate if it is waitable. Events fired from a state the rule
// does not allow fail with a *TransitionError and change nothing.
//
// Fire calls are serialized; callbacks and observers run while the machine is
// held and must not fire events on the same machine.
type StateMachine struct {
	name     string
	table    TransitionTable
	callback func(Callback)

	fireMu sync.Mutex

	mu        sync.Mutex
	current   State
	since     time.Time
	gates     map[State]*Gate
	observers []func(Transition)
}

// MachineOption configures a StateMachine
type MachineOption func(*StateMachine)

// WithMachineName sets the name reported in errors
func WithMachineName(name string) MachineOption {
	return func(m *StateMachine) {
		m.name = name
	}
}

// WithTable replaces the service transition table
func WithTable(table TransitionTable) MachineOption {
	return func(m *StateMachine) {
		m.table = table
	}
}

// WithInitialState sets the starting state
func WithInitialState(s State) MachineOption {
	return func(m *StateMachine) {
		m.current = s
	}
}

// WithWaitable replaces the set of states that can be waited on
func WithWaitable(states ...State) MachineOption {
	return func(m *StateMachine) {
		m.gates = make(map[State]*Gate, len(states))
		for _, s := range states {
			m.gates[s] = NewGate()
		}
	}
}

// WithCallback sets the function invoked with each rule's callback
func WithCallback(fn func(Callback)) MachineOption {
	return func(m *StateMachine) {
		m.callback = fn
	}
}

// WithObserver registers a function called after every transition
func WithObserver(fn func(Transition)) MachineOption {
	return func(m *StateMachine) {
		m.observers = append(m.observers, fn)
	}
}

// NewStateMachine creates a machine in StateInit using ServiceTransitions,
// with ready and stopped waitable
func NewStateMachine(opts ...MachineOption) *StateMachine {
	m := &StateMachine{
		table:   ServiceTransitions(),
		current: StateInit,
		since:   time.Now(),
	}
	WithWaitable(WaitableStates()...)(m)

	for _, opt := range opts {
		opt(m)
	}

	if g, ok := m.gates[m.current]; ok {
		g.Set()
	}
	return m
}

// Current returns the current state
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Since returns when the current state was entered
func (m *StateMachine) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.since
}

// Is reports whether the current state is one of states
func (m *StateMachine) Is(states ...State) bool {
	cur := m.Current()
	for _, s := range states {
		if s == cur {
			return true
		}
	}
	return false
}

// Observe registers a function called after every transition
func (m *StateMachine) Observe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Fire applies event to the machine
func (m *StateMachine) Fire(event Event) error {
	m.fireMu.Lock()
	defer m.fireMu.Unlock()

	from := m.Current()
	rule, ok := m.table[event]
	if !ok {
		return &TransitionError{Service: m.name, Event: event, From: from, To: from}
	}
	if !rule.Allows(from) {
		return &TransitionError{Service: m.name, Event: event, From: from, To: rule.To}
	}

	if rule.Callback != CallbackNone && m.callback != nil {
		m.callback(rule.Callback)
	}

	tr := Transition{Event: event, From: from, To: rule.To, At: time.Now()}

	m.mu.Lock()
	for _, g := range m.gates {
		g.Clear()
	}
	m.current = rule.To
	m.since = tr.At
	if g, ok := m.gates[rule.To]; ok {
		g.Set()
	}
	observers := m.observers
	m.mu.Unlock()

	for _, obs := range observers {
		obs(tr)
	}
	return nil
}

// Gate returns the wait gate for state, or nil if the state is not waitable
func (m *StateMachine) Gate(state State) *Gate {
	return m.gates[state]
}

// Wait blocks until state is entered, the timeout elapses or ctx is done. A
// timeout <= 0 waits without limit. It reports whether the state was reached.
// Waiting on a state that is not waitable returns a *TransitionError.
func (m *StateMachine) Wait(ctx context.Context, state State, timeout time.Duration) (bool, error) {
	g, ok := m.gates[state]
	if !ok {
		return false, &TransitionError{Service: m.name, Event: EventNone, From: m.Current(), To: state}
	}
	return g.Wait(ctx, timeout), nil
}
