package svctree

import (
	"fmt"
	"slices"
)

// State is a service lifecycle state
type State int

const (
	// StateInit is the state of a service that has never been started
	StateInit State = iota
	// StateStartingServices means children are being started
	StateStartingServices
	// StateStarting means the service's own start hook is running or readiness is pending
	StateStarting
	// StateReady means the service is available
	StateReady
	// StateStoppingServices means children are being stopped
	StateStoppingServices
	// StateStopping means the service's own stop hook is running
	StateStopping
	// StateStopped means the service has stopped and may be started again
	StateStopped
)

// State string constants
const (
	stateInitStr             = "init"
	stateStartingServicesStr = "starting:services"
	stateStartingStr         = "starting"
	stateReadyStr            = "ready"
	stateStoppingServicesStr = "stopping:services"
	stateStoppingStr         = "stopping"
	stateStoppedStr          = "stopped"
	stateUnknownStr          = "unknown"
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateInit:
		return stateInitStr
	case StateStartingServices:
		return stateStartingServicesStr
	case StateStarting:
		return stateStartingStr
	case StateReady:
		return stateReadyStr
	case StateStoppingServices:
		return stateStoppingServicesStr
	case StateStopping:
		return stateStoppingStr
	case StateStopped:
		return stateStoppedStr
	default:
		return stateUnknownStr
	}
}

// ParseState returns the State named by s
func ParseState(s string) (State, error) {
	for st := StateInit; st <= StateStopped; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return StateInit, fmt.Errorf("unknown state %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Event drives a transition of the state machine
type Event int

const (
	// EventNone is not a real event; it marks rejected waits in TransitionError
	EventNone Event = iota
	// EventStartServices begins a start
	EventStartServices
	// EventServicesStarted marks children as started
	EventServicesStarted
	// EventReady marks the service as ready
	EventReady
	// EventStopServices begins a stop
	EventStopServices
	// EventServicesStopped marks children as stopped
	EventServicesStopped
	// EventStopped completes a stop
	EventStopped
)

// String returns the string representation of an Event
func (e Event) String() string {
	switch e {
	case EventStartServices:
		return "start_services"
	case EventServicesStarted:
		return "services_started"
	case EventReady:
		return "ready"
	case EventStopServices:
		return "stop_services"
	case EventServicesStopped:
		return "services_stopped"
	case EventStopped:
		return "stopped"
	default:
		return "none"
	}
}

// ParseEvent returns the Event named by s
func ParseEvent(s string) (Event, error) {
	for ev := EventStartServices; ev <= EventStopped; ev++ {
		if ev.String() == s {
			return ev, nil
		}
	}
	return EventNone, fmt.Errorf("unknown event %q", s)
}

// Callback names a lifecycle callback fired on a transition
type Callback int

const (
	// CallbackNone fires nothing
	CallbackNone Callback = iota
	// CallbackPreStart fires when a start begins
	CallbackPreStart
	// CallbackPostStart fires when the service becomes ready
	CallbackPostStart
	// CallbackPreStop fires when a stop begins
	CallbackPreStop
	// CallbackPostStop fires when the stop completes
	CallbackPostStop
)

// String returns the string representation of a Callback
func (c Callback) String() string {
	switch c {
	case CallbackPreStart:
		return "pre_start"
	case CallbackPostStart:
		return "post_start"
	case CallbackPreStop:
		return "pre_stop"
	case CallbackPostStop:
		return "post_stop"
	default:
		return "none"
	}
}

// Rule describes one legal transition
type Rule struct {
	// From lists the states the event may be fired from
	From []State
	// To is the state entered
	To State
	// Callback fires before the state changes
	Callback Callback
}

// Allows reports whether the rule may fire from state s
func (r Rule) Allows(s State) bool {
	return slices.Contains(r.From, s)
}

// TransitionTable maps events to their rules
type TransitionTable map[Event]Rule

// ServiceTransitions returns the two-phase service lifecycle table.
// Children are started between start_services and services_started, and
// stopped between stop_services and services_stopped.
func ServiceTransitions() TransitionTable {
	return TransitionTable{
		EventStartServices: {
			From:     []State{StateInit, StateStopped},
			To:       StateStartingServices,
			Callback: CallbackPreStart,
		},
		EventServicesStarted: {
			From: []State{StateStartingServices},
			To:   StateStarting,
		},
		EventReady: {
			From:     []State{StateStarting},
			To:       StateReady,
			Callback: CallbackPostStart,
		},
		EventStopServices: {
			From:     []State{StateReady, StateStartingServices, StateStarting},
			To:       StateStoppingServices,
			Callback: CallbackPreStop,
		},
		EventServicesStopped: {
			From: []State{StateStoppingServices},
			To:   StateStopping,
		},
		EventStopped: {
			From:     []State{StateStopping, StateStoppingServices},
			To:       StateStopped,
			Callback: CallbackPostStop,
		},
	}
}

// WaitableStates returns the states external callers may block on
func WaitableStates() []State {
	return []State{StateReady, StateStopped}
}
