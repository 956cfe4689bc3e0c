// Package presscycle tracks the lifetime of one physical chord hold and
// is the authority for "is this callback still relevant" checks.
package presscycle

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/types"
)

var (
	// ErrStalePress marks a callback carrying a press id that has been
	// superseded by a newer press. Callers log and drop, never propagate.
	ErrStalePress = errors.New("stale press id")

	// ErrBadTransition marks a transition the current state does not allow.
	ErrBadTransition = errors.New("invalid press cycle transition")
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateRecording
	StateStopping
	StateWaitingRemote
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateWaitingRemote:
		return "waiting_remote"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Snapshot is a read-only copy of the current cycle for the watchdog
// and status surfaces.
type Snapshot struct {
	ID        types.PressID
	State     State
	StartedAt time.Time
}

// Tracker holds at most one non-idle press cycle. Every state-changing
// entry point takes the id the caller believes it is acting on and
// rejects if it has gone stale.
type Tracker struct {
	mu        sync.Mutex
	id        types.PressID
	state     State
	startedAt time.Time
}

func New() *Tracker {
	return &Tracker{}
}

// Begin opens a new cycle, superseding any previous one. The previous
// cycle's pending callbacks become stale by identity.
func (t *Tracker) Begin() types.PressID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		logger := log.With("presscycle")
		logger.Debug().
			Str("press_id", string(t.id)).
			Str("state", t.state.String()).
			Msg("superseding non-idle cycle")
		metricSuperseded.Inc()
	}
	t.id = types.PressID(uuid.New().String())
	t.state = StateArmed
	t.startedAt = time.Now()
	return t.id
}

// ConfirmLongPress transitions Armed -> Recording, guarding against a
// long-press callback that arrives after a newer press began.
func (t *Tracker) ConfirmLongPress(id types.PressID) error {
	return t.transition(id, StateRecording, StateArmed)
}

// Release moves a held cycle toward teardown. A released Armed cycle is
// the short-press path and goes straight back to Idle; a Recording cycle
// enters Stopping to await the capture terminal event.
func (t *Tracker) Release(id types.PressID) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkCurrent(id); err != nil {
		return StateIdle, err
	}
	switch t.state {
	case StateArmed:
		t.state = StateIdle
		return StateIdle, nil
	case StateRecording:
		t.state = StateStopping
		return StateStopping, nil
	default:
		return t.state, ErrBadTransition
	}
}

// MarkWaitingRemote transitions Stopping -> WaitingRemote once capture
// has its terminal event and the remote pipeline takes over.
func (t *Tracker) MarkWaitingRemote(id types.PressID) error {
	return t.transition(id, StateWaitingRemote, StateStopping)
}

// MarkProcessing transitions WaitingRemote -> Processing when the remote
// response starts flowing.
func (t *Tracker) MarkProcessing(id types.PressID) error {
	return t.transition(id, StateProcessing, StateWaitingRemote)
}

// Finish returns the cycle to Idle on any terminal outcome.
func (t *Tracker) Finish(id types.PressID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkCurrent(id); err != nil {
		return err
	}
	t.state = StateIdle
	return nil
}

// Reset forces the tracker back to Idle regardless of identity. Watchdog
// recovery path.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		metricForcedResets.Inc()
	}
	t.state = StateIdle
}

// Current returns the id of the latest cycle, which may be Idle.
func (t *Tracker) Current() types.PressID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{ID: t.id, State: t.state, StartedAt: t.startedAt}
}

func (t *Tracker) transition(id types.PressID, to State, from ...State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkCurrent(id); err != nil {
		return err
	}
	for _, f := range from {
		if t.state == f {
			t.state = to
			return nil
		}
	}
	return ErrBadTransition
}

func (t *Tracker) checkCurrent(id types.PressID) error {
	if id == "" || id != t.id {
		metricStaleRejected.Inc()
		return ErrStalePress
	}
	return nil
}
