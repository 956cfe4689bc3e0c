package presscycle

import (
	"errors"
	"testing"
)

func TestLongPressHappyPath(t *testing.T) {
	tr := New()
	id := tr.Begin()

	if err := tr.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm long press: %v", err)
	}
	if st := tr.Snapshot(); st.State != StateRecording {
		t.Fatalf("expected recording, got %s", st.State)
	}

	st, err := tr.Release(id)
	if err != nil || st != StateStopping {
		t.Fatalf("expected stopping, got %s err=%v", st, err)
	}
	if err := tr.MarkWaitingRemote(id); err != nil {
		t.Fatalf("mark waiting remote: %v", err)
	}
	if err := tr.MarkProcessing(id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := tr.Finish(id); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if st := tr.Snapshot(); st.State != StateIdle {
		t.Fatalf("expected idle, got %s", st.State)
	}
}

func TestShortPressReturnsToIdle(t *testing.T) {
	tr := New()
	id := tr.Begin()

	st, err := tr.Release(id)
	if err != nil || st != StateIdle {
		t.Fatalf("expected idle on short press, got %s err=%v", st, err)
	}
}

func TestStaleConfirmRejected(t *testing.T) {
	tr := New()
	old := tr.Begin()
	tr.Begin() // newer press supersedes

	if err := tr.ConfirmLongPress(old); !errors.Is(err, ErrStalePress) {
		t.Fatalf("expected ErrStalePress, got %v", err)
	}
	if st := tr.Snapshot(); st.State != StateArmed {
		t.Fatalf("stale confirm must not change state, got %s", st.State)
	}
}

func TestStaleReleaseIsNoOp(t *testing.T) {
	tr := New()
	old := tr.Begin()
	cur := tr.Begin()
	if err := tr.ConfirmLongPress(cur); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := tr.Release(old); !errors.Is(err, ErrStalePress) {
		t.Fatalf("expected ErrStalePress, got %v", err)
	}
	if st := tr.Snapshot(); st.State != StateRecording {
		t.Fatalf("stale release must not change state, got %s", st.State)
	}
}

func TestAtMostOneNonIdleCycle(t *testing.T) {
	tr := New()
	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id := tr.Begin()
		if ids[string(id)] {
			t.Fatalf("press id reused: %s", id)
		}
		ids[string(id)] = true

		// Only the latest id can act on the tracker.
		st := tr.Snapshot()
		if st.ID != id || st.State != StateArmed {
			t.Fatalf("expected single armed cycle for %s, got %+v", id, st)
		}
	}
}

func TestConfirmAfterReleaseRejected(t *testing.T) {
	tr := New()
	id := tr.Begin()
	if _, err := tr.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Long-press timer fired after the confirmed release: the cycle is
	// Idle, so the confirm must not start recording.
	if err := tr.ConfirmLongPress(id); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestResetForcesIdle(t *testing.T) {
	tr := New()
	id := tr.Begin()
	if err := tr.ConfirmLongPress(id); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	tr.Reset()
	if st := tr.Snapshot(); st.State != StateIdle {
		t.Fatalf("expected idle after reset, got %s", st.State)
	}
	// Callbacks for the reset cycle can no longer escalate.
	if err := tr.MarkWaitingRemote(id); !errors.Is(err, ErrBadTransition) && !errors.Is(err, ErrStalePress) {
		t.Fatalf("expected rejection after reset, got %v", err)
	}
}
