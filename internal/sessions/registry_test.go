package sessions

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pushtalk/agent/internal/types"
)

func TestOpenMakesCurrent(t *testing.T) {
	r := New()
	id := r.Open("press-1")
	if !r.IsCurrent(id) {
		t.Fatalf("expected %s to be current", id)
	}

	id2 := r.Open("press-2")
	if r.IsCurrent(id) {
		t.Fatal("superseded session must not be current")
	}
	if !r.IsCurrent(id2) {
		t.Fatal("newest session must be current")
	}
}

func TestMarkersAreIdempotent(t *testing.T) {
	r := New()
	id := r.Open("press-1")

	r.MarkActive(id, types.SubsystemCapture)
	r.MarkActive(id, types.SubsystemCapture)
	if got := r.ActiveWork(id); len(got) != 1 {
		t.Fatalf("expected one active subsystem, got %v", got)
	}

	r.MarkDone(id, types.SubsystemCapture)
	r.MarkDone(id, types.SubsystemCapture)
	r.MarkDone(id, types.SubsystemPlayback) // done without active: no-op
	if got := r.ActiveWork(id); len(got) != 0 {
		t.Fatalf("expected no active work, got %v", got)
	}
}

func TestCloseRefusedWhileBusy(t *testing.T) {
	r := New()
	id := r.Open("press-1")
	r.MarkActive(id, types.SubsystemRemote)

	if err := r.Close(id); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	r.MarkDone(id, types.SubsystemRemote)
	if err := r.Close(id); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("closed session record should be gone")
	}
}

func TestSupersededSessionStillCleansUp(t *testing.T) {
	r := New()
	old := r.Open("press-1")
	r.MarkActive(old, types.SubsystemPlayback)
	cur := r.Open("press-2")

	// Terminal event for the superseded session: local cleanup proceeds.
	r.MarkDone(old, types.SubsystemPlayback)
	if err := r.Close(old); err != nil {
		t.Fatalf("close superseded: %v", err)
	}

	// The current session is untouched.
	if !r.IsCurrent(cur) {
		t.Fatal("current session must survive superseded cleanup")
	}
}

func TestStaleListsOverdueSupersededSessions(t *testing.T) {
	r := New()
	old := r.Open("press-1")
	r.MarkActive(old, types.SubsystemPlayback) // terminal event never arrives
	cur := r.Open("press-2")

	cutoff := time.Now().Add(time.Minute)
	stale := r.Stale(cutoff)
	if len(stale) != 1 || stale[0].ID != old {
		t.Fatalf("expected %s stale, got %v", old, stale)
	}

	// The current session is never reported, no matter its age.
	for _, s := range stale {
		if s.ID == cur {
			t.Fatal("current session must not be listed as stale")
		}
	}

	// A cutoff before its creation leaves it alone.
	if got := r.Stale(time.Now().Add(-time.Minute)); len(got) != 0 {
		t.Fatalf("expected nothing stale before cutoff, got %v", got)
	}
}

func TestEventsRetainedAfterClose(t *testing.T) {
	r := New()
	id := r.Open("press-1")
	r.AppendEvent(id, "speech_completed", map[string]any{"text": "hello"})
	if err := r.Close(id); err != nil {
		t.Fatalf("close: %v", err)
	}

	evts := r.Events(id)
	if len(evts) != 1 || evts[0].Type != "speech_completed" {
		t.Fatalf("expected retained event log, got %v", evts)
	}
}

func TestEventLogTruncation(t *testing.T) {
	r := New()
	id := r.Open("press-1")
	for i := 0; i < maxEventsPerSession+50; i++ {
		r.AppendEvent(id, fmt.Sprintf("evt_%d", i), nil)
	}

	evts := r.Events(id)
	if len(evts) > maxEventsPerSession {
		t.Fatalf("event log exceeds cap: %d", len(evts))
	}
	// The marker marks where the gap is: before the kept tail, not after.
	if evts[0].Type != "events_truncated" {
		t.Fatalf("expected truncation marker first, got %q", evts[0].Type)
	}
	if got := evts[len(evts)-1].Type; got != fmt.Sprintf("evt_%d", maxEventsPerSession+49) {
		t.Fatalf("expected newest event last, got %q", got)
	}
}

func TestRetentionEvictsOldLogs(t *testing.T) {
	r := New()
	first := r.Open("press-0")
	r.AppendEvent(first, "opened", nil)
	if err := r.Close(first); err != nil {
		t.Fatalf("close: %v", err)
	}

	for i := 0; i < maxRetainedLogs+1; i++ {
		id := r.Open(types.PressID(fmt.Sprintf("press-%d", i+1)))
		if err := r.Close(id); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	if evts := r.Events(first); len(evts) != 0 {
		t.Fatalf("expected oldest log evicted, got %v", evts)
	}
}
