package watchdog

import (
	"testing"
	"time"

	"pushtalk/agent/internal/hookstate"
	"pushtalk/agent/internal/loop"
	"pushtalk/agent/internal/presscycle"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/types"
)

type captureSink struct {
	events []loop.Event
}

func (c *captureSink) Enqueue(ev loop.Event) bool {
	c.events = append(c.events, ev)
	return true
}

func (c *captureSink) actions() []loop.WatchdogEvent {
	var out []loop.WatchdogEvent
	for _, ev := range c.events {
		if we, ok := ev.(loop.WatchdogEvent); ok && we.Kind != loop.ActionReconcile {
			out = append(out, we)
		}
	}
	return out
}

func newWatchdog(sink Ingress, cycles *presscycle.Tracker, reg *sessions.Registry, hw *hookstate.Monitor) *Watchdog {
	return New(cycles, reg, hw, sink, 2*time.Second, 30*time.Second, 5*time.Second)
}

func TestStuckRecordingForcesReset(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	id := cycles.Begin()
	if err := cycles.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	sid := reg.Open(id)

	// Recording for 10x any legitimate interaction duration.
	w.Check(time.Now().Add(5 * time.Minute))

	acts := sink.actions()
	if len(acts) != 1 {
		t.Fatalf("expected one corrective action, got %v", acts)
	}
	if acts[0].Kind != loop.ActionForceReset || acts[0].SessionID != sid || acts[0].PressID != id {
		t.Fatalf("unexpected action %+v", acts[0])
	}
}

func TestHealthyCycleLeftAlone(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	id := cycles.Begin()
	if err := cycles.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	hw.Update(true, true, time.Now())

	w.Check(time.Now().Add(2 * time.Second))

	if acts := sink.actions(); len(acts) != 0 {
		t.Fatalf("expected no corrective action, got %v", acts)
	}
}

func TestEdgeTriggeredNotEveryTick(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	id := cycles.Begin()
	if err := cycles.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	reg.Open(id)

	base := time.Now().Add(5 * time.Minute)
	// The condition persists across several ticks inside the rate window.
	w.Check(base)
	w.Check(base.Add(2 * time.Second))
	w.Check(base.Add(4 * time.Second))

	if acts := sink.actions(); len(acts) != 1 {
		t.Fatalf("expected a single edge-triggered action, got %d", len(acts))
	}
}

func TestPhantomHoldDrivesRelease(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	id := cycles.Begin()
	if err := cycles.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Hardware reports the chord genuinely up, in a snapshot taken well
	// after the press began, while the tracker still thinks it is held.
	later := time.Now().Add(2 * releaseGrace)
	hw.Update(false, true, later)

	w.Check(later)

	acts := sink.actions()
	if len(acts) != 1 || acts[0].Kind != loop.ActionConfirmRelease {
		t.Fatalf("expected confirm-release action, got %v", acts)
	}
}

func TestPrePressSnapshotDoesNotReleaseFreshHold(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	// The hook reported "chord up" just before the press landed. That
	// snapshot says nothing about the hold that began after it.
	hw.Update(false, true, time.Now().Add(-time.Second))
	id := cycles.Begin()
	if err := cycles.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	w.Check(time.Now())

	if acts := sink.actions(); len(acts) != 0 {
		t.Fatalf("fresh hold must survive a pre-press snapshot, got %v", acts)
	}
}

func TestSupersededSessionEvicted(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	// A session stuck waiting on playback that will never report in,
	// superseded by a newer healthy press.
	oldID := cycles.Begin()
	oldSid := reg.Open(oldID)
	reg.MarkActive(oldSid, types.SubsystemPlayback)
	newID := cycles.Begin()
	reg.Open(newID)

	base := time.Now().Add(time.Minute)
	w.Check(base)

	acts := sink.actions()
	if len(acts) != 1 {
		t.Fatalf("expected one eviction, got %v", acts)
	}
	if acts[0].Kind != loop.ActionCloseSession || acts[0].SessionID != oldSid {
		t.Fatalf("unexpected action %+v", acts[0])
	}

	// Still unprocessed next tick: the eviction is rate-limited.
	w.Check(base.Add(2 * time.Second))
	if acts := sink.actions(); len(acts) != 1 {
		t.Fatalf("expected eviction to be rate-limited, got %d actions", len(acts))
	}
}

func TestCurrentSessionNeverEvicted(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	id := cycles.Begin()
	sid := reg.Open(id)
	reg.MarkActive(sid, types.SubsystemCapture)
	hw.Update(true, true, time.Now())

	w.Check(time.Now().Add(10 * time.Second))

	for _, a := range sink.actions() {
		if a.Kind == loop.ActionCloseSession {
			t.Fatalf("current session must not be evicted: %+v", a)
		}
	}
}

func TestHookDegradedTerminatesSession(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	id := cycles.Begin()
	if err := cycles.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	sid := reg.Open(id)
	hw.Update(true, false, time.Now()) // hook disabled mid-session

	w.Check(time.Now())

	var reset *loop.WatchdogEvent
	for _, a := range sink.actions() {
		if a.Kind == loop.ActionForceReset {
			a := a
			reset = &a
		}
	}
	if reset == nil {
		t.Fatal("expected forced reset when hook degraded")
	}
	if reset.SessionID != sid || reset.Reason != "hook_degraded" {
		t.Fatalf("unexpected action %+v", reset)
	}
}

func TestIdleWithHookDownIsQuiet(t *testing.T) {
	sink := &captureSink{}
	cycles := presscycle.New()
	reg := sessions.New()
	hw := hookstate.New()
	w := newWatchdog(sink, cycles, reg, hw)

	hw.Update(false, false, time.Now())
	w.Check(time.Now())

	if acts := sink.actions(); len(acts) != 0 {
		t.Fatalf("no in-flight work, expected no action, got %v", acts)
	}
}

func TestEveryCheckRequestsReconcile(t *testing.T) {
	sink := &captureSink{}
	w := newWatchdog(sink, presscycle.New(), sessions.New(), hookstate.New())

	w.Check(time.Now())

	found := false
	for _, ev := range sink.events {
		if we, ok := ev.(loop.WatchdogEvent); ok && we.Kind == loop.ActionReconcile {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a reconcile pass per tick")
	}
}
