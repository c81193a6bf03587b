// Package event implements the single-shot completion signal returned
// from every execute call (§4.H).
package event

import (
	"sync"

	"github.com/nnexec/nnexec/pkg/nnerrors"
)

// State is the lifecycle of an Event.
type State int

const (
	Pending State = iota
	Success
	Error
)

func (s State) String() string {
	switch s {
	case Success:
		return "Success"
	case Error:
		return "Error"
	default:
		return "Pending"
	}
}

// Event is a single-shot condition object: Pending -> Success | Error.
// Wait blocks until it is non-pending; every waiter is released.
// Publishing the state happens-before any reader observes it (guarded
// here by the same mutex that protects the fields), which is what
// backs the spec's "outputs are stable when event is Success" rule.
type Event struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State
	err   *nnerrors.Error
}

// New returns a fresh Pending event.
func New() *Event {
	e := &Event{state: Pending}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Signal transitions the event to Success (err == nil) or Error(err).
// Signaling an already-signaled event is a no-op: the first signal
// wins, matching "single-shot".
func (e *Event) Signal(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Pending {
		return
	}
	if err == nil {
		e.state = Success
	} else {
		e.state = Error
		if ne, ok := err.(*nnerrors.Error); ok {
			e.err = ne
		} else {
			e.err = nnerrors.New(nnerrors.OpFailed, "%v", err)
		}
	}
	e.cond.Broadcast()
}

// Wait blocks until the event is non-pending and returns its
// terminal state and, for Error, the causing error.
func (e *Event) Wait() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.state == Pending {
		e.cond.Wait()
	}
	if e.state == Error {
		return e.state, e.err
	}
	return e.state, nil
}

// Poll returns the current state without blocking.
func (e *Event) Poll() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
