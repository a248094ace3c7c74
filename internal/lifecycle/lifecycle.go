// Package lifecycle tracks whether the page index can serve queries.
//
//	EMPTY --BeginBuild--> BUILDING --Finish--> READY | EMPTY
//	READY --BeginBuild--> BUILDING
//	READY --BeginUpdate-> UPDATING --Finish--> READY
//	EMPTY --Refresh-----> READY (build marker found on disk)
//	any   --Close-------> CLOSED
//
// Queries are answered only in READY. There is no waiting: a query during
// a build fails immediately with ERR_501_INDEX_NOT_READY.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// State is the index lifecycle state.
type State string

const (
	StateEmpty    State = "EMPTY"
	StateBuilding State = "BUILDING"
	StateReady    State = "READY"
	StateUpdating State = "UPDATING"
	StateClosed   State = "CLOSED"
)

// Snapshot is an immutable view of the lifecycle.
type Snapshot struct {
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	Built     bool      `json:"built"`
	LastError string    `json:"last_error,omitempty"`
}

// Observer is notified after every transition, outside the lock.
type Observer func(from, to State)

// Lifecycle is the index state machine. Safe for concurrent use.
type Lifecycle struct {
	mu        sync.Mutex
	state     State
	since     time.Time
	built     bool
	lastErr   string
	observers []Observer
	now       func() time.Time
}

// New returns a lifecycle in EMPTY, or READY when a completed build is
// already on disk.
func New(built bool) *Lifecycle {
	l := &Lifecycle{state: StateEmpty, built: built, now: time.Now}
	if built {
		l.state = StateReady
	}
	l.since = l.now()
	return l
}

// OnChange registers an observer.
func (l *Lifecycle) OnChange(fn Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BeginBuild enters BUILDING from EMPTY or READY.
func (l *Lifecycle) BeginBuild() error {
	return l.begin(StateBuilding, StateEmpty, StateReady)
}

// BeginUpdate enters UPDATING from READY.
func (l *Lifecycle) BeginUpdate() error {
	return l.begin(StateUpdating, StateReady)
}

func (l *Lifecycle) begin(to State, allowed ...State) error {
	l.mu.Lock()
	from := l.state
	ok := false
	for _, s := range allowed {
		if from == s {
			ok = true
			break
		}
	}
	if !ok {
		l.mu.Unlock()
		return transitionError(from, to)
	}
	l.setLocked(to)
	observers := l.observers
	l.mu.Unlock()

	notify(observers, from, to)
	return nil
}

// Finish ends a build or update. The index becomes READY when this or an
// earlier build completed, EMPTY otherwise. A non-nil err is kept for
// Snapshot.
func (l *Lifecycle) Finish(success bool, err error) {
	l.mu.Lock()
	from := l.state
	if from != StateBuilding && from != StateUpdating {
		l.mu.Unlock()
		return
	}
	if from == StateBuilding && success {
		l.built = true
	}
	if err != nil {
		l.lastErr = err.Error()
	} else if success {
		l.lastErr = ""
	}
	to := StateEmpty
	if l.built {
		to = StateReady
	}
	l.setLocked(to)
	observers := l.observers
	l.mu.Unlock()

	notify(observers, from, to)
}

// Refresh moves EMPTY to READY when built reports a completed build on
// disk, which happens when another process builds a shared index. It is a
// no-op in any other state.
func (l *Lifecycle) Refresh(built func() (bool, error)) error {
	if l.State() != StateEmpty {
		return nil
	}
	ok, err := built()
	if err != nil || !ok {
		return err
	}

	l.mu.Lock()
	from := l.state
	if from != StateEmpty {
		l.mu.Unlock()
		return nil
	}
	l.built = true
	l.setLocked(StateReady)
	observers := l.observers
	l.mu.Unlock()

	notify(observers, from, StateReady)
	return nil
}

// Close moves to CLOSED. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	from := l.state
	if from == StateClosed {
		l.mu.Unlock()
		return
	}
	l.setLocked(StateClosed)
	observers := l.observers
	l.mu.Unlock()

	notify(observers, from, StateClosed)
}

// CheckQueryable returns nil in READY and ERR_501_INDEX_NOT_READY otherwise.
func (l *Lifecycle) CheckQueryable() error {
	l.mu.Lock()
	s := l.state
	l.mu.Unlock()

	switch s {
	case StateReady:
		return nil
	case StateClosed:
		return bserrors.New(bserrors.ErrCodeIndexNotReady, "index is closed", nil)
	case StateEmpty:
		return bserrors.New(bserrors.ErrCodeIndexNotReady, "index has not been built", nil).
			WithDetail("state", string(s)).
			WithSuggestion("Run 'bibsearch index' to build the index")
	default:
		return bserrors.New(bserrors.ErrCodeIndexNotReady, "indexing in progress", nil).
			WithDetail("state", string(s))
	}
}

// Snapshot returns the current state.
func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{State: l.state, Since: l.since, Built: l.built, LastError: l.lastErr}
}

func (l *Lifecycle) setLocked(s State) {
	l.state = s
	l.since = l.now()
}

func notify(observers []Observer, from, to State) {
	for _, fn := range observers {
		fn(from, to)
	}
}

func transitionError(from, to State) error {
	if from == StateBuilding || from == StateUpdating {
		return bserrors.New(bserrors.ErrCodeIndexNotReady,
			fmt.Sprintf("cannot start %s: index is %s", to, from), nil).
			WithDetail("state", string(from))
	}
	return bserrors.New(bserrors.ErrCodeIndexNotReady,
		fmt.Sprintf("cannot enter %s from %s", to, from), nil).
		WithDetail("state", string(from))
}
