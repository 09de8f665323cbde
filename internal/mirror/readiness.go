package mirror

import (
	"errors"
	"sync"
	"time"
)

// ErrInitInProgress is returned when an ingestion is started while another
// one is still running.
var ErrInitInProgress = errors.New("mirror initialization already in progress")

// State is the lifecycle state of the mirror.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// ReadinessStatus is a snapshot of the readiness state machine.
type ReadinessStatus struct {
	State State
	Since time.Time
	Err   error
}

// Readiness guards the one-time ingestion that must complete before the
// mirror serves requests. Transitions:
//
//	uninitialized|ready|failed -> initializing -> ready|failed
//
// A failed ingestion never leaves the mirror marked ready.
type Readiness struct {
	mu    sync.Mutex
	clock Clock
	state State
	since time.Time
	err   error
}

// NewReadiness returns a Readiness in the uninitialized state.
func NewReadiness(clock Clock) *Readiness {
	return &Readiness{clock: clock, state: StateUninitialized, since: clock.Now()}
}

// Status returns the current state.
func (r *Readiness) Status() ReadinessStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReadinessStatus{State: r.state, Since: r.since, Err: r.err}
}

// Ready reports whether the mirror may serve requests.
func (r *Readiness) Ready() bool {
	return r.Status().State == StateReady
}

// MarkReady restores the ready state of a mirror populated by an earlier
// process. It only applies to an uninitialized mirror.
func (r *Readiness) MarkReady(at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateUninitialized {
		return false
	}
	r.state = StateReady
	r.since = at
	return true
}

func (r *Readiness) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateInitializing {
		return ErrInitInProgress
	}
	r.state = StateInitializing
	r.since = r.clock.Now()
	r.err = nil
	return nil
}

func (r *Readiness) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.since = r.clock.Now()
	r.err = err
	if err != nil {
		r.state = StateFailed
		return
	}
	r.state = StateReady
}
