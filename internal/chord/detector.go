// Package chord normalizes raw key edges for a single configured hotkey
// chord into a debounced press / long-press / release gesture stream.
package chord

import (
	"time"

	"pushtalk/agent/internal/log"
)

// Modifier is a bitmask of modifier keys required by the chord.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

// ParseModifiers maps config names onto the Modifier bitmask. Unknown
// names are ignored.
func ParseModifiers(names []string) Modifier {
	var m Modifier
	for _, n := range names {
		switch n {
		case "ctrl", "control":
			m |= ModCtrl
		case "alt", "option":
			m |= ModAlt
		case "shift":
			m |= ModShift
		case "super", "cmd", "meta", "win":
			m |= ModSuper
		}
	}
	return m
}

type EdgeKind int

const (
	EdgeDown EdgeKind = iota
	EdgeUp
	EdgeModifiers
)

// Edge is one raw hardware event as delivered by the key hook worker.
// Mods carries the full modifier state observed in the same event.
type Edge struct {
	Kind EdgeKind
	Key  string
	Mods Modifier
	At   time.Time
}

type GestureKind int

const (
	GesturePress GestureKind = iota
	GestureLongPress
	GestureRelease
)

func (k GestureKind) String() string {
	switch k {
	case GesturePress:
		return "press"
	case GestureLongPress:
		return "long_press"
	default:
		return "release"
	}
}

// Gesture is a debounced logical event. Seq ties a long-press or release
// back to the press that opened the gesture.
type Gesture struct {
	Kind GestureKind
	Seq  uint64
	At   time.Time
}

// StateSource answers "is the chord physically held right now" from the
// most recent hardware snapshot. fresh is false when no recent snapshot
// is available and the answer cannot be trusted.
type StateSource interface {
	ChordHeld() (held bool, fresh bool)
}

// Spec is the configured chord: one key plus required modifiers.
type Spec struct {
	Key  string
	Mods Modifier
}

// Detector is owned by the dispatch loop and is not safe for concurrent
// use. It never blocks; detection failures degrade to no event.
type Detector struct {
	spec Spec
	hw   StateSource

	longPressAfter time.Duration
	confirmWindow  time.Duration
	staleTimeout   time.Duration

	seq        uint64
	engaged    bool
	longFired  bool
	keyDown    bool
	mods       Modifier
	pressAt    time.Time
	lastEdgeAt time.Time

	// pendingUntil is nonzero while a release edge is held for confirmation.
	pendingUntil time.Time
}

func New(spec Spec, hw StateSource, longPressAfter, confirmWindow, staleTimeout time.Duration) *Detector {
	return &Detector{
		spec:           spec,
		hw:             hw,
		longPressAfter: longPressAfter,
		confirmWindow:  confirmWindow,
		staleTimeout:   staleTimeout,
	}
}

// Engaged reports whether the detector currently considers the chord held.
func (d *Detector) Engaged() bool { return d.engaged }

// HandleEdge consumes one raw edge and returns any gestures it produced.
func (d *Detector) HandleEdge(e Edge) []Gesture {
	d.lastEdgeAt = e.At

	switch e.Kind {
	case EdgeModifiers:
		d.mods = e.Mods
		return d.afterStateChange(e.At)

	case EdgeDown:
		d.mods = e.Mods
		if e.Key == d.spec.Key {
			d.keyDown = true
			if !d.engaged {
				// Press requires the exact modifier set in the same event;
				// extra modifiers mean an unrelated accelerator chord.
				if e.Mods&d.spec.Mods == d.spec.Mods && e.Mods&^d.spec.Mods == 0 {
					d.engaged = true
					d.longFired = false
					d.seq++
					d.pressAt = e.At
					d.pendingUntil = time.Time{}
					metricGestures.WithLabelValues("press").Inc()
					return []Gesture{{Kind: GesturePress, Seq: d.seq, At: e.At}}
				}
				return nil
			}
		}
		return d.afterStateChange(e.At)

	case EdgeUp:
		d.mods = e.Mods
		if e.Key == d.spec.Key {
			d.keyDown = false
		}
		return d.afterStateChange(e.At)
	}
	return nil
}

// afterStateChange re-evaluates the engaged chord against the latched
// key/modifier state, opening or cancelling a pending release.
func (d *Detector) afterStateChange(at time.Time) []Gesture {
	if !d.engaged {
		return nil
	}
	if d.chordSatisfied() {
		if !d.pendingUntil.IsZero() {
			// The lost half reappeared inside the confirm window: noise.
			d.pendingUntil = time.Time{}
			metricNoiseCancelled.Inc()
		}
		return nil
	}
	if d.pendingUntil.IsZero() {
		d.pendingUntil = at.Add(d.confirmWindow)
	}
	return nil
}

func (d *Detector) chordSatisfied() bool {
	return d.keyDown && d.mods&d.spec.Mods == d.spec.Mods
}

// Tick advances the detector's timers: confirming pending releases and
// firing the long-press threshold. Driven by the dispatch loop.
func (d *Detector) Tick(now time.Time) []Gesture {
	if !d.engaged {
		return nil
	}

	if !d.pendingUntil.IsZero() && !now.Before(d.pendingUntil) {
		if held, fresh := d.hw.ChordHeld(); fresh && held {
			// Hardware disagrees with the edges: the release was noise.
			d.pendingUntil = time.Time{}
			metricNoiseCancelled.Inc()
		} else {
			return d.confirmRelease(now)
		}
	}

	if !d.longFired && d.pendingUntil.IsZero() && now.Sub(d.pressAt) >= d.longPressAfter {
		d.longFired = true
		metricGestures.WithLabelValues("long_press").Inc()
		return []Gesture{{Kind: GestureLongPress, Seq: d.seq, At: now}}
	}
	return nil
}

// Reconcile heals from lost edges: an engaged chord with no corroborating
// edges past the stale timeout is force-released unless hardware confirms
// the hold is real.
func (d *Detector) Reconcile(now time.Time) []Gesture {
	if !d.engaged || now.Sub(d.lastEdgeAt) <= d.staleTimeout {
		return nil
	}
	if held, fresh := d.hw.ChordHeld(); fresh && held {
		return nil
	}
	logger := log.With("chord")
	logger.Warn().Uint64("seq", d.seq).Msg("stale chord state, forcing release")
	metricStaleResets.Inc()
	return d.confirmRelease(now)
}

// ForceRelease releases an engaged chord immediately, bypassing the
// confirm window. Used by watchdog recovery.
func (d *Detector) ForceRelease(now time.Time) []Gesture {
	if !d.engaged {
		return nil
	}
	return d.confirmRelease(now)
}

func (d *Detector) confirmRelease(now time.Time) []Gesture {
	d.engaged = false
	d.longFired = false
	d.keyDown = false
	d.pendingUntil = time.Time{}
	metricGestures.WithLabelValues("release").Inc()
	return []Gesture{{Kind: GestureRelease, Seq: d.seq, At: now}}
}
