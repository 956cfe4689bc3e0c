package mode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/types"
)

func newController(t *testing.T) (*Controller, *sessions.Registry) {
	t.Helper()
	reg := sessions.New()
	return New(reg, 250*time.Millisecond), reg
}

func drain(ch <-chan Change) []Change {
	var out []Change
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestProcessingRequiresSessionID(t *testing.T) {
	c, _ := newController(t)

	err := c.Request(Request{Target: types.ModeProcessing, Reason: "speech_completed"})
	require.ErrorIs(t, err, ErrMissingSession)
	require.Equal(t, types.ModeIdle, c.Mode())
}

func TestFullCycleTransitions(t *testing.T) {
	c, reg := newController(t)
	sid := reg.Open("press-1")
	ch := c.Subscribe()

	require.NoError(t, c.Request(Request{Target: types.ModeListening, SessionID: sid, Reason: "long_press"}))
	require.NoError(t, c.Request(Request{Target: types.ModeProcessing, SessionID: sid, Reason: "speech_completed"}))
	require.NoError(t, c.Request(Request{Target: types.ModeIdle, SessionID: sid, Reason: "playback_completed"}))

	changes := drain(ch)
	require.Len(t, changes, 3)
	require.Equal(t, types.ModeListening, changes[0].New)
	require.Equal(t, types.ModeProcessing, changes[1].New)
	require.Equal(t, types.ModeIdle, changes[2].New)
}

func TestIndependentIdleProducersCauseOneTransition(t *testing.T) {
	c, reg := newController(t)
	sid := reg.Open("press-1")
	ch := c.Subscribe()

	require.NoError(t, c.Request(Request{Target: types.ModeListening, SessionID: sid, Reason: "long_press"}))
	drain(ch)

	// STT failure, network failure, and playback cancel all compute
	// "go to idle" independently.
	require.NoError(t, c.Request(Request{Target: types.ModeIdle, SessionID: sid, Reason: "speech_failed"}))
	require.NoError(t, c.Request(Request{Target: types.ModeIdle, SessionID: sid, Reason: "remote_failed"}))
	require.NoError(t, c.Request(Request{Target: types.ModeIdle, SessionID: sid, Reason: "playback_cancelled"}))

	changes := drain(ch)
	require.Len(t, changes, 1, "duplicate idle requests must not flicker")
	require.Equal(t, types.ModeIdle, changes[0].New)
}

func TestDedupWindowCoalesces(t *testing.T) {
	c, reg := newController(t)
	sid := reg.Open("press-1")
	ch := c.Subscribe()

	require.NoError(t, c.Request(Request{Target: types.ModeListening, SessionID: sid, Reason: "long_press"}))
	require.NoError(t, c.Request(Request{Target: types.ModeListening, SessionID: sid, Reason: "long_press_retry"}))

	require.Len(t, drain(ch), 1)
}

func TestStaleSessionCannotEscalate(t *testing.T) {
	c, reg := newController(t)
	old := reg.Open("press-1")
	reg.Open("press-2") // supersedes

	err := c.Request(Request{Target: types.ModeProcessing, SessionID: old, Reason: "speech_completed"})
	require.ErrorIs(t, err, ErrStaleSession)
	require.Equal(t, types.ModeIdle, c.Mode())
}

func TestStaleSessionCanReleaseToIdle(t *testing.T) {
	c, reg := newController(t)
	old := reg.Open("press-1")
	require.NoError(t, c.Request(Request{Target: types.ModeListening, SessionID: old, Reason: "long_press"}))

	reg.Open("press-2")

	// The superseded session's terminal event must still release the app.
	err := c.Request(Request{Target: types.ModeIdle, SessionID: old, Reason: "playback_cancelled"})
	require.NoError(t, err)
	require.Equal(t, types.ModeIdle, c.Mode())
}
