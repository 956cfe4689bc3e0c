package types

import "time"

// Mode is the single application mode. It is assigned only by the mode
// controller; everything else reads snapshots.
type Mode int

const (
	ModeIdle Mode = iota
	ModeListening
	ModeProcessing
	ModeSleeping
)

func (m Mode) String() string {
	switch m {
	case ModeListening:
		return "listening"
	case ModeProcessing:
		return "processing"
	case ModeSleeping:
		return "sleeping"
	default:
		return "idle"
	}
}

// PressID identifies one physical hold of the chord.
type PressID string

// SessionID identifies one voice interaction (capture -> remote -> playback).
type SessionID string

// Subsystem tags in-flight work a session has declared.
type Subsystem string

const (
	SubsystemCapture  Subsystem = "capture"
	SubsystemRemote   Subsystem = "remote"
	SubsystemPlayback Subsystem = "playback"
)

// Event is a diagnostic record appended to a session's event log.
type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}
