package svctree

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by svctree operations
var (
	// ErrInvalidTransition indicates an event was fired from a state that does
	// not allow it, or a wait was requested on a state that cannot be waited on
	ErrInvalidTransition = errors.New("svctree: invalid transition")

	// ErrStartTimeout indicates a service did not become ready within its start timeout
	ErrStartTimeout = errors.New("svctree: start timeout")

	// ErrTaskFailed indicates a spawned task returned an error or panicked
	ErrTaskFailed = errors.New("svctree: task failed")

	// ErrForcedTermination indicates tasks ignored cancellation and were abandoned
	ErrForcedTermination = errors.New("svctree: forced termination failed")

	// ErrSpawnerStopped indicates a spawn was attempted on a spawner that is not running
	ErrSpawnerStopped = errors.New("svctree: spawner not running")

	// ErrServiceNotFound indicates RemoveService was given a service that is not a child
	ErrServiceNotFound = errors.New("svctree: service not found")

	// ErrAlreadyRunning indicates a live process already owns the pidfile
	ErrAlreadyRunning = errors.New("svctree: already running")

	// ErrNotRunning indicates no live process owns the pidfile
	ErrNotRunning = errors.New("svctree: not running")

	// ErrQueueClosed is returned by Queue operations after Close
	ErrQueueClosed = errors.New("svctree: queue closed")
)

// ErrNotReady is returned from OnStart to defer readiness until SetReady is
// called. Like io.EOF it is a signal, not a failure.
var ErrNotReady = errors.New("svctree: not ready")

// TransitionError reports an event fired from an illegal state
type TransitionError struct {
	// Service is the name of the service whose machine rejected the event
	Service string
	// Event is the rejected event, EventNone for a rejected wait
	Event Event
	// From is the state the machine was in
	From State
	// To is the target state of the event, or the state waited on
	To State
}

// Error returns a formatted error message
func (e *TransitionError) Error() string {
	if e.Event == EventNone {
		return fmt.Sprintf("svctree %s: cannot wait for state %q", e.Service, e.To)
	}
	return fmt.Sprintf("svctree %s: cannot enter %q from %q on %s", e.Service, e.To, e.From, e.Event)
}

// Unwrap returns ErrInvalidTransition
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StartTimeoutError reports a service that did not become ready in time
type StartTimeoutError struct {
	Service string
	Timeout time.Duration
}

// Error returns a formatted error message
func (e *StartTimeoutError) Error() string {
	return fmt.Sprintf("svctree %s: not ready after %s", e.Service, e.Timeout)
}

// Unwrap returns ErrStartTimeout
func (e *StartTimeoutError) Unwrap() error {
	return ErrStartTimeout
}

// TaskError wraps an error returned, or a panic raised, by a spawned task
type TaskError struct {
	// Service is the name of the service owning the spawner
	Service string
	// TaskID identifies the task
	TaskID string
	// Err is the error returned by the task, or the recovered panic value
	Err error
	// Panic is true when Err was recovered from a panic
	Panic bool
}

// Error returns a formatted error message
func (e *TaskError) Error() string {
	if e.Panic {
		return fmt.Sprintf("svctree %s: task %s panicked: %v", e.Service, e.TaskID, e.Err)
	}
	return fmt.Sprintf("svctree %s: task %s: %v", e.Service, e.TaskID, e.Err)
}

// Unwrap returns the task's own error so handlers can match on it
func (e *TaskError) Unwrap() []error {
	return []error{ErrTaskFailed, e.Err}
}

// ForcedTerminationError lists the tasks that were still running after the
// kill window and have been abandoned
type ForcedTerminationError struct {
	Service string
	Tasks   []string
}

// Error returns a formatted error message
func (e *ForcedTerminationError) Error() string {
	return fmt.Sprintf("svctree %s: %d task(s) ignored cancellation: %s",
		e.Service, len(e.Tasks), strings.Join(e.Tasks, ", "))
}

// Unwrap returns ErrForcedTermination
func (e *ForcedTerminationError) Unwrap() error {
	return ErrForcedTermination
}

// OpError represents an error from a lifecycle operation on a named service
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Service is the service the operation targeted
	Service string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("svctree %s %q: %v", e.Op.String(), e.Service, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from tree and bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(m.Errors), m.Errors[0])
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
