package loop

import (
	"time"

	"pushtalk/agent/internal/chord"
	"pushtalk/agent/internal/types"
)

// Event is the closed set of variants accepted by the dispatch loop's
// ingress queue. Producers never mutate shared state directly; they
// enqueue one of these.
type Event interface {
	isEvent()
}

// KeyEdgeEvent carries one raw hardware edge from the key hook.
type KeyEdgeEvent struct {
	Edge chord.Edge
}

type SpeechKind int

const (
	SpeechCompleted SpeechKind = iota
	SpeechFailed
)

// SpeechEvent is the capture/recognition collaborator's terminal event,
// emitted exactly once per session.
type SpeechEvent struct {
	SessionID types.SessionID
	Kind      SpeechKind
	Text      string
	Reason    string
}

type RemoteKind int

const (
	RemoteStarted RemoteKind = iota
	RemoteChunk
	RemoteCompleted
	RemoteFailed
)

// RemoteEvent reports progress of the network response pipeline.
type RemoteEvent struct {
	SessionID types.SessionID
	Kind      RemoteKind
	Reason    string
}

type PlaybackKind int

const (
	PlaybackStarted PlaybackKind = iota
	PlaybackCompleted
	PlaybackCancelled
	PlaybackFailed
)

// PlaybackEvent reports the audio renderer's lifecycle for a session.
type PlaybackEvent struct {
	SessionID types.SessionID
	Kind      PlaybackKind
	Reason    string
}

// InterruptEvent asks for the cancel fan-out on behalf of a session.
type InterruptEvent struct {
	SessionID types.SessionID
	Reason    string
	PressID   types.PressID
}

// HookStateEvent is the hook worker's periodic hardware snapshot.
type HookStateEvent struct {
	ChordHeld   bool
	HookEnabled bool
	At          time.Time
}

type ActionKind int

const (
	// ActionForceReset tears down a stuck cycle/session.
	ActionForceReset ActionKind = iota
	// ActionConfirmRelease drives a release the hardware already made.
	ActionConfirmRelease
	// ActionReconcile runs the chord detector's stale-state healing pass.
	ActionReconcile
	// ActionCloseSession evicts a superseded session whose terminal
	// events never arrived, without disturbing the current cycle.
	ActionCloseSession
)

// WatchdogEvent is a corrective action the watchdog marshals into the
// loop instead of touching loop-owned state itself.
type WatchdogEvent struct {
	Kind      ActionKind
	PressID   types.PressID
	SessionID types.SessionID
	Reason    string
}

func (KeyEdgeEvent) isEvent()   {}
func (SpeechEvent) isEvent()    {}
func (RemoteEvent) isEvent()    {}
func (PlaybackEvent) isEvent()  {}
func (InterruptEvent) isEvent() {}
func (HookStateEvent) isEvent() {}
func (WatchdogEvent) isEvent()  {}
