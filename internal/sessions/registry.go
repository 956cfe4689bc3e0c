// Package sessions assigns identity to voice interactions, tracks their
// in-flight work, and keeps a capped diagnostic event log per session.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushtalk/agent/internal/types"
)

var (
	// ErrSessionBusy is returned by Close while the session still has
	// declared in-flight work.
	ErrSessionBusy = errors.New("session has active work")

	// ErrUnknownSession is returned for ids with no live record.
	ErrUnknownSession = errors.New("unknown session")
)

// maxEventsPerSession caps a session's diagnostic log. When exceeded the
// oldest entries are dropped and a truncation marker is appended.
const maxEventsPerSession = 200

// maxRetainedLogs bounds how many closed sessions keep their event logs
// around for the /sessions/{id}/events surface.
const maxRetainedLogs = 16

type record struct {
	id        types.SessionID
	pressID   types.PressID
	createdAt time.Time
	active    map[types.Subsystem]bool
}

// Snapshot is a read-only view of a session record.
type Snapshot struct {
	ID         types.SessionID   `json:"session_id"`
	PressID    types.PressID     `json:"press_id"`
	CreatedAt  time.Time         `json:"created_at"`
	ActiveWork []types.Subsystem `json:"active_work"`
}

type Registry struct {
	mu       sync.RWMutex
	current  types.SessionID
	sessions map[types.SessionID]*record
	events   map[types.SessionID][]types.Event
	retained []types.SessionID
}

func New() *Registry {
	return &Registry{
		sessions: make(map[types.SessionID]*record),
		events:   make(map[types.SessionID][]types.Event),
	}
}

// Open creates a session for a press entering Recording and makes it
// current, superseding any previous session.
func (r *Registry) Open(pressID types.PressID) types.SessionID {
	id := types.SessionID(uuid.New().String())
	r.mu.Lock()
	r.sessions[id] = &record{
		id:        id,
		pressID:   pressID,
		createdAt: time.Now().UTC(),
		active:    make(map[types.Subsystem]bool),
	}
	r.current = id
	r.retain(id)
	r.mu.Unlock()
	return id
}

// IsCurrent reports whether the session has not been superseded.
func (r *Registry) IsCurrent(id types.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != "" && id == r.current
}

// Current returns the current session id, empty when none is live.
func (r *Registry) Current() types.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[r.current]; !ok {
		return ""
	}
	return r.current
}

// MarkActive declares in-flight work for a subsystem. Idempotent; a mark
// for an unknown (already torn down) session is a no-op.
func (r *Registry) MarkActive(id types.SessionID, sub types.Subsystem) {
	r.mu.Lock()
	if rec, ok := r.sessions[id]; ok {
		rec.active[sub] = true
	}
	r.mu.Unlock()
}

// MarkDone clears a subsystem's in-flight work. Done twice, or done
// without a matching active, is a no-op, not an error.
func (r *Registry) MarkDone(id types.SessionID, sub types.Subsystem) {
	r.mu.Lock()
	if rec, ok := r.sessions[id]; ok {
		delete(rec.active, sub)
	}
	r.mu.Unlock()
}

// ActiveWork lists the subsystems that still have work in flight.
func (r *Registry) ActiveWork(id types.SessionID) []types.Subsystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return nil
	}
	out := make([]types.Subsystem, 0, len(rec.active))
	for sub := range rec.active {
		out = append(out, sub)
	}
	return out
}

// Close tears down the session record. Refused while active work remains;
// the event log is retained for diagnostics.
func (r *Registry) Close(id types.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if len(rec.active) > 0 {
		return ErrSessionBusy
	}
	delete(r.sessions, id)
	if r.current == id {
		r.current = ""
	}
	return nil
}

// ForceClose discards in-flight markers and tears the record down.
// Watchdog recovery path.
func (r *Registry) ForceClose(id types.SessionID) {
	r.mu.Lock()
	if rec, ok := r.sessions[id]; ok {
		rec.active = make(map[types.Subsystem]bool)
		delete(r.sessions, id)
		if r.current == id {
			r.current = ""
		}
	}
	r.mu.Unlock()
}

// Stale lists live superseded sessions created before the cutoff. Their
// terminal events are overdue; the watchdog uses this to evict leaked
// records.
func (r *Registry) Stale(cutoff time.Time) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for id, rec := range r.sessions {
		if id == r.current {
			continue
		}
		if rec.createdAt.Before(cutoff) {
			out = append(out, snapshotOf(rec))
		}
	}
	return out
}

// Get returns a snapshot of a live session record.
func (r *Registry) Get(id types.SessionID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(rec), true
}

// AppendEvent records a diagnostic event on the session's log.
func (r *Registry) AppendEvent(id types.SessionID, typ string, payload map[string]any) {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	r.mu.Lock()
	defer r.mu.Unlock()
	log := append(r.events[id], evt)
	if l := len(log); l > maxEventsPerSession {
		keep := maxEventsPerSession - 1
		dropped := l - keep
		// The marker leads the kept tail so readers see where the gap is.
		trimmed := make([]types.Event, 0, maxEventsPerSession)
		trimmed = append(trimmed, types.Event{
			Type: "events_truncated",
			Ts:   time.Now().UTC(),
			Payload: map[string]any{
				"dropped": dropped,
				"kept":    keep,
			},
		})
		log = append(trimmed, log[l-keep:]...)
	}
	r.events[id] = log
}

// Events returns a copy of the session's diagnostic log.
func (r *Registry) Events(id types.SessionID) []types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.events[id]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// retain tracks event-log retention for closed sessions; caller holds mu.
func (r *Registry) retain(id types.SessionID) {
	r.retained = append(r.retained, id)
	for len(r.retained) > maxRetainedLogs {
		old := r.retained[0]
		r.retained = r.retained[1:]
		if _, live := r.sessions[old]; !live {
			delete(r.events, old)
		}
	}
}

func snapshotOf(rec *record) Snapshot {
	work := make([]types.Subsystem, 0, len(rec.active))
	for sub := range rec.active {
		work = append(work, sub)
	}
	return Snapshot{ID: rec.id, PressID: rec.pressID, CreatedAt: rec.createdAt, ActiveWork: work}
}
