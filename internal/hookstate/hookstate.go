// Package hookstate mirrors the last hardware snapshot reported by the
// key-hook worker: is the chord physically held, and is the hook itself
// still delivering events.
package hookstate

import (
	"sync"
	"time"
)

// freshFor bounds how long a snapshot answers hardware queries before it
// is considered stale.
const freshFor = 3 * time.Second

type Snapshot struct {
	ChordHeld   bool      `json:"chord_held"`
	HookEnabled bool      `json:"hook_enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
	Fresh       bool      `json:"fresh"`
}

type Monitor struct {
	mu          sync.RWMutex
	chordHeld   bool
	hookEnabled bool
	updatedAt   time.Time
}

func New() *Monitor {
	// Until the hook worker reports in, assume the hook is up so the
	// watchdog does not tear sessions down on startup.
	return &Monitor{hookEnabled: true}
}

// Update records a snapshot from the hook worker.
func (m *Monitor) Update(chordHeld, hookEnabled bool, at time.Time) {
	m.mu.Lock()
	m.chordHeld = chordHeld
	m.hookEnabled = hookEnabled
	m.updatedAt = at
	m.mu.Unlock()
}

// ChordHeld implements chord.StateSource.
func (m *Monitor) ChordHeld() (held bool, fresh bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chordHeld, m.fresh(time.Now())
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		ChordHeld:   m.chordHeld,
		HookEnabled: m.hookEnabled,
		UpdatedAt:   m.updatedAt,
		Fresh:       m.fresh(time.Now()),
	}
}

func (m *Monitor) fresh(now time.Time) bool {
	return !m.updatedAt.IsZero() && now.Sub(m.updatedAt) <= freshFor
}
