// Package watchdog reconciles tracked press/session state against ground
// truth on a fixed tick and force-recovers stuck states. It never touches
// loop-owned state directly; corrective actions are marshaled through the
// dispatch loop's ingress queue.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/agent/internal/hookstate"
	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/loop"
	"pushtalk/agent/internal/presscycle"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/types"
)

// Ingress is the loop's enqueue surface.
type Ingress interface {
	Enqueue(ev loop.Event) bool
}

// releaseGrace is how much newer than the press start a hardware
// snapshot must be before it may contradict the tracker's held state.
// A snapshot captured before (or around) the press says nothing about
// the current hold.
const releaseGrace = time.Second

type condition int

const (
	condStuckCycle condition = iota
	condPhantomHold
	condHookDegraded
)

type Watchdog struct {
	cycles   *presscycle.Tracker
	registry *sessions.Registry
	hw       *hookstate.Monitor
	sink     Ingress

	tick       time.Duration
	stuckAfter time.Duration
	actionGap  time.Duration

	// Edge-trigger bookkeeping: the identity each condition last fired
	// for, and when, so a persisting condition acts once, not every tick.
	lastFired map[condition]types.PressID
	lastAt    map[condition]time.Time

	// Superseded-session evictions, rate-limited per session id.
	evictedAt map[types.SessionID]time.Time

	logger zerolog.Logger
}

func New(cycles *presscycle.Tracker, registry *sessions.Registry, hw *hookstate.Monitor,
	sink Ingress, tick, stuckAfter, actionGap time.Duration) *Watchdog {
	return &Watchdog{
		cycles:     cycles,
		registry:   registry,
		hw:         hw,
		sink:       sink,
		tick:       tick,
		stuckAfter: stuckAfter,
		actionGap:  actionGap,
		lastFired:  make(map[condition]types.PressID),
		lastAt:     make(map[condition]time.Time),
		evictedAt:  make(map[types.SessionID]time.Time),
		logger:     log.With("watchdog"),
	}
}

// Run ticks until the context ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}

// Check runs one reconciliation pass. Exported for tests.
func (w *Watchdog) Check(now time.Time) {
	cycle := w.cycles.Snapshot()
	hook := w.hw.Snapshot()

	w.checkStuckCycle(now, cycle)
	w.checkStaleSessions(now)
	w.checkPhantomHold(now, cycle, hook)
	w.checkHookDegraded(now, cycle, hook)

	// Heal chord flag state that lost an edge.
	w.sink.Enqueue(loop.WatchdogEvent{Kind: loop.ActionReconcile})
}

// checkStuckCycle recovers a cycle held in a mid-interaction state far
// longer than any legitimate interaction should take.
func (w *Watchdog) checkStuckCycle(now time.Time, cycle presscycle.Snapshot) {
	switch cycle.State {
	case presscycle.StateRecording, presscycle.StateStopping, presscycle.StateWaitingRemote, presscycle.StateProcessing:
	default:
		return
	}
	if now.Sub(cycle.StartedAt) < w.stuckAfter {
		return
	}
	if !w.shouldAct(condStuckCycle, cycle.ID, now) {
		return
	}

	sid := w.registry.Current()
	w.logger.Warn().
		Str("press_id", string(cycle.ID)).
		Str("state", cycle.State.String()).
		Str("session_id", string(sid)).
		Msg("cycle stuck, forcing reset")
	metricRecoveries.WithLabelValues("stuck_cycle").Inc()
	w.sink.Enqueue(loop.WatchdogEvent{
		Kind:      loop.ActionForceReset,
		PressID:   cycle.ID,
		SessionID: sid,
		Reason:    "watchdog_stuck",
	})
}

// checkStaleSessions evicts superseded sessions whose terminal events
// never arrived. The stuck-cycle check only watches the current cycle;
// without this sweep a worker dying mid-session after a new press would
// leak the old record indefinitely.
func (w *Watchdog) checkStaleSessions(now time.Time) {
	for _, snap := range w.registry.Stale(now.Add(-w.stuckAfter)) {
		if fired, ok := w.evictedAt[snap.ID]; ok && now.Sub(fired) < w.actionGap {
			continue
		}
		w.evictedAt[snap.ID] = now
		w.logger.Warn().
			Str("session_id", string(snap.ID)).
			Msg("superseded session overdue, evicting")
		metricRecoveries.WithLabelValues("stale_session").Inc()
		w.sink.Enqueue(loop.WatchdogEvent{
			Kind:      loop.ActionCloseSession,
			PressID:   snap.PressID,
			SessionID: snap.ID,
			Reason:    "watchdog_stale_session",
		})
	}
	for id := range w.evictedAt {
		if _, live := w.registry.Get(id); !live {
			delete(w.evictedAt, id)
		}
	}
}

// checkPhantomHold drives a confirmed release when the tracker believes
// the chord is held but the hardware says it is up.
func (w *Watchdog) checkPhantomHold(now time.Time, cycle presscycle.Snapshot, hook hookstate.Snapshot) {
	held := cycle.State == presscycle.StateArmed || cycle.State == presscycle.StateRecording
	if !held || !hook.Fresh || hook.ChordHeld {
		return
	}
	if !hook.UpdatedAt.After(cycle.StartedAt.Add(releaseGrace)) {
		return
	}
	if !w.shouldAct(condPhantomHold, cycle.ID, now) {
		return
	}

	w.logger.Warn().
		Str("press_id", string(cycle.ID)).
		Msg("hardware reports chord released, driving release")
	metricRecoveries.WithLabelValues("phantom_hold").Inc()
	w.sink.Enqueue(loop.WatchdogEvent{Kind: loop.ActionConfirmRelease, PressID: cycle.ID})
}

// checkHookDegraded force-terminates in-flight work when the key hook
// stops delivering events; a session nobody can release must not stay
// open.
func (w *Watchdog) checkHookDegraded(now time.Time, cycle presscycle.Snapshot, hook hookstate.Snapshot) {
	if hook.HookEnabled {
		return
	}
	sid := w.registry.Current()
	if sid == "" && cycle.State == presscycle.StateIdle {
		return
	}
	if !w.shouldAct(condHookDegraded, cycle.ID, now) {
		return
	}

	w.logger.Warn().
		Str("session_id", string(sid)).
		Msg("key hook degraded, terminating in-flight session")
	metricRecoveries.WithLabelValues("hook_degraded").Inc()
	w.sink.Enqueue(loop.WatchdogEvent{
		Kind:      loop.ActionForceReset,
		PressID:   cycle.ID,
		SessionID: sid,
		Reason:    "hook_degraded",
	})
}

// shouldAct is the edge-trigger: act once per condition instance, and
// never more often than the rate limit allows.
func (w *Watchdog) shouldAct(c condition, id types.PressID, now time.Time) bool {
	if w.lastFired[c] == id && now.Sub(w.lastAt[c]) < w.actionGap {
		return false
	}
	w.lastFired[c] = id
	w.lastAt[c] = now
	return true
}
