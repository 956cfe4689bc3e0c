// Package loop runs the single event-processing goroutine that owns all
// session and mode transitions. Hardware callbacks, pipeline workers, and
// the watchdog feed it through one bounded ingress queue.
package loop

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/agent/internal/chord"
	"pushtalk/agent/internal/interrupt"
	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/mode"
	"pushtalk/agent/internal/presscycle"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/types"
)

const (
	ingressCap = 256
	tickEvery  = 20 * time.Millisecond
)

// Commander sends control commands to the pipeline workers. Delivery is
// best effort; an absent worker is not an error the loop can act on.
type Commander interface {
	interrupt.CancelSink
	StartCapture(ctx context.Context, id types.SessionID) error
	StopCapture(ctx context.Context, id types.SessionID) error
	StartRemote(ctx context.Context, id types.SessionID, text string) error
}

// HardwareSink receives hook snapshots; implemented by hookstate.Monitor.
type HardwareSink interface {
	Update(chordHeld, hookEnabled bool, at time.Time)
}

type Dispatcher struct {
	in chan Event

	detector   *chord.Detector
	cycles     *presscycle.Tracker
	registry   *sessions.Registry
	modes      *mode.Controller
	interrupts *interrupt.Coordinator
	hw         HardwareSink
	cmd        Commander

	// Loop-local press/session bookkeeping; touched only by Run's goroutine.
	curSeq     uint64
	curPress   types.PressID
	curSession types.SessionID

	logger zerolog.Logger
}

func New(detector *chord.Detector, cycles *presscycle.Tracker, registry *sessions.Registry,
	modes *mode.Controller, interrupts *interrupt.Coordinator, hw HardwareSink, cmd Commander) *Dispatcher {
	return &Dispatcher{
		in:         make(chan Event, ingressCap),
		detector:   detector,
		cycles:     cycles,
		registry:   registry,
		modes:      modes,
		interrupts: interrupts,
		hw:         hw,
		cmd:        cmd,
		logger:     log.With("loop"),
	}
}

// Enqueue delivers an event into the loop without blocking the producer.
// A full queue drops the event; a hardware callback must never stall.
func (d *Dispatcher) Enqueue(ev Event) bool {
	select {
	case d.in <- ev:
		metricIngress.Inc()
		return true
	default:
		metricDropped.Inc()
		d.logger.Warn().Msgf("ingress full, dropping %T", ev)
		return false
	}
}

// Run processes events in arrival order until the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.in:
			d.handle(ctx, ev)
		case now := <-ticker.C:
			d.emit(ctx, d.detector.Tick(now))
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case KeyEdgeEvent:
		d.emit(ctx, d.detector.HandleEdge(e.Edge))
	case SpeechEvent:
		d.handleSpeech(ctx, e)
	case RemoteEvent:
		d.handleRemote(ctx, e)
	case PlaybackEvent:
		d.handlePlayback(ctx, e)
	case InterruptEvent:
		d.handleInterrupt(ctx, e)
	case HookStateEvent:
		d.hw.Update(e.ChordHeld, e.HookEnabled, e.At)
	case WatchdogEvent:
		d.handleWatchdog(ctx, e)
	}
}

// emit routes detector gestures. Seq ties a gesture to the press that
// opened it; a mismatch means the gesture was superseded in flight.
func (d *Dispatcher) emit(ctx context.Context, gestures []chord.Gesture) {
	for _, g := range gestures {
		switch g.Kind {
		case chord.GesturePress:
			d.curSeq = g.Seq
			d.curPress = d.cycles.Begin()
			d.logger.Debug().Str("press_id", string(d.curPress)).Msg("press armed")
		case chord.GestureLongPress:
			if g.Seq != d.curSeq {
				metricStaleIgnored.Inc()
				d.logger.Debug().Uint64("seq", g.Seq).Msg("stale long press ignored")
				continue
			}
			d.handleLongPress(ctx, d.curPress)
		case chord.GestureRelease:
			if g.Seq != d.curSeq {
				metricStaleIgnored.Inc()
				d.logger.Debug().Uint64("seq", g.Seq).Msg("stale release ignored")
				continue
			}
			d.handleRelease(ctx, d.curPress)
		}
	}
}

func (d *Dispatcher) handleLongPress(ctx context.Context, pressID types.PressID) {
	if err := d.cycles.ConfirmLongPress(pressID); err != nil {
		metricStaleIgnored.Inc()
		d.logger.Debug().Err(err).Str("press_id", string(pressID)).Msg("long press confirm rejected")
		return
	}

	sid := d.registry.Open(pressID)
	d.curSession = sid
	d.registry.MarkActive(sid, types.SubsystemCapture)
	d.registry.AppendEvent(sid, "session_opened", map[string]any{"press_id": string(pressID)})

	if err := d.modes.Request(mode.Request{Target: types.ModeListening, SessionID: sid, Reason: "long_press"}); err != nil {
		d.logger.Warn().Err(err).Str("session_id", string(sid)).Msg("listening request refused")
	}
	if err := d.cmd.StartCapture(ctx, sid); err != nil {
		d.logger.Warn().Err(err).Str("session_id", string(sid)).Msg("capture start undelivered")
	}
}

func (d *Dispatcher) handleRelease(ctx context.Context, pressID types.PressID) {
	st, err := d.cycles.Release(pressID)
	if err != nil {
		metricStaleIgnored.Inc()
		d.logger.Debug().Err(err).Str("press_id", string(pressID)).Msg("release rejected")
		return
	}
	switch st {
	case presscycle.StateIdle:
		// Short press: the long-press threshold never fired.
		d.logger.Debug().Str("press_id", string(pressID)).Msg("short press, no session")
	case presscycle.StateStopping:
		sid := d.curSession
		d.registry.AppendEvent(sid, "capture_stop_requested", nil)
		if err := d.cmd.StopCapture(ctx, sid); err != nil {
			d.logger.Warn().Err(err).Str("session_id", string(sid)).Msg("capture stop undelivered")
		}
	}
}

func (d *Dispatcher) handleSpeech(ctx context.Context, e SpeechEvent) {
	sid := e.SessionID
	d.registry.MarkDone(sid, types.SubsystemCapture)

	switch e.Kind {
	case SpeechCompleted:
		d.registry.AppendEvent(sid, "speech_completed", map[string]any{"chars": len(e.Text)})
		if !d.registry.IsCurrent(sid) {
			d.staleCleanup(sid, "speech_completed")
			return
		}
		if snap, ok := d.registry.Get(sid); ok {
			if err := d.cycles.MarkWaitingRemote(snap.PressID); err != nil {
				d.logger.Debug().Err(err).Msg("cycle already past stopping")
			}
		}
		if err := d.modes.Request(mode.Request{Target: types.ModeProcessing, SessionID: sid, Reason: "speech_completed"}); err != nil {
			d.logger.Warn().Err(err).Str("session_id", string(sid)).Msg("processing request refused")
			d.finishSession(ctx, sid, "speech_completed_stale", false)
			return
		}
		d.registry.MarkActive(sid, types.SubsystemRemote)
		if err := d.cmd.StartRemote(ctx, sid, e.Text); err != nil {
			d.logger.Warn().Err(err).Str("session_id", string(sid)).Msg("remote start undelivered")
		}
	case SpeechFailed:
		d.registry.AppendEvent(sid, "speech_failed", map[string]any{"reason": e.Reason})
		d.finishSession(ctx, sid, "speech_failed", true)
	}
}

func (d *Dispatcher) handleRemote(ctx context.Context, e RemoteEvent) {
	sid := e.SessionID
	switch e.Kind {
	case RemoteStarted:
		d.registry.AppendEvent(sid, "remote_started", nil)
		if !d.registry.IsCurrent(sid) {
			return
		}
		d.registry.MarkActive(sid, types.SubsystemRemote)
		if snap, ok := d.registry.Get(sid); ok {
			if err := d.cycles.MarkProcessing(snap.PressID); err != nil {
				d.logger.Debug().Err(err).Msg("cycle not waiting on remote")
			}
		}
	case RemoteChunk:
		// Chunks only matter for diagnostics here; playback consumes the
		// audio out of band.
		d.registry.AppendEvent(sid, "remote_chunk", nil)
	case RemoteCompleted:
		d.registry.AppendEvent(sid, "remote_completed", nil)
		d.registry.MarkDone(sid, types.SubsystemRemote)
		if !d.registry.IsCurrent(sid) {
			d.staleCleanup(sid, "remote_completed")
			return
		}
		// Playback renders the streamed response; declare it before the
		// session can be considered complete.
		d.registry.MarkActive(sid, types.SubsystemPlayback)
	case RemoteFailed:
		d.registry.AppendEvent(sid, "remote_failed", map[string]any{"reason": e.Reason})
		d.registry.MarkDone(sid, types.SubsystemRemote)
		d.finishSession(ctx, sid, "remote_failed", true)
	}
}

func (d *Dispatcher) handlePlayback(ctx context.Context, e PlaybackEvent) {
	sid := e.SessionID
	switch e.Kind {
	case PlaybackStarted:
		d.registry.AppendEvent(sid, "playback_started", nil)
		if d.registry.IsCurrent(sid) {
			d.registry.MarkActive(sid, types.SubsystemPlayback)
		}
	case PlaybackCompleted:
		d.registry.AppendEvent(sid, "playback_completed", nil)
		d.registry.MarkDone(sid, types.SubsystemPlayback)
		d.finishSession(ctx, sid, "playback_completed", false)
	case PlaybackCancelled:
		d.registry.AppendEvent(sid, "playback_cancelled", nil)
		d.registry.MarkDone(sid, types.SubsystemPlayback)
		d.finishSession(ctx, sid, "playback_cancelled", false)
	case PlaybackFailed:
		d.registry.AppendEvent(sid, "playback_failed", map[string]any{"reason": e.Reason})
		d.registry.MarkDone(sid, types.SubsystemPlayback)
		d.finishSession(ctx, sid, "playback_failed", true)
	}
}

func (d *Dispatcher) handleInterrupt(ctx context.Context, e InterruptEvent) {
	err := d.interrupts.Request(ctx, e.SessionID, e.Reason, e.PressID)
	if err != nil {
		d.logger.Debug().Err(err).Str("session_id", string(e.SessionID)).Msg("interrupt not applied")
		return
	}
	d.registry.AppendEvent(e.SessionID, "interrupt_accepted", map[string]any{"reason": e.Reason})
	if err := d.modes.Request(mode.Request{Target: types.ModeIdle, SessionID: e.SessionID, Reason: e.Reason}); err != nil {
		d.logger.Debug().Err(err).Msg("idle request after interrupt refused")
	}
}

func (d *Dispatcher) handleWatchdog(ctx context.Context, e WatchdogEvent) {
	switch e.Kind {
	case ActionForceReset:
		d.logger.Warn().
			Str("press_id", string(e.PressID)).
			Str("session_id", string(e.SessionID)).
			Str("reason", e.Reason).
			Msg("watchdog forced reset")
		d.cycles.Reset()
		d.detector.ForceRelease(time.Now()) // gestures discarded, cycle is gone
		if e.SessionID != "" {
			if err := d.interrupts.Request(ctx, e.SessionID, e.Reason, e.PressID); err != nil {
				d.logger.Debug().Err(err).Msg("watchdog interrupt deduplicated")
			}
			d.registry.AppendEvent(e.SessionID, "watchdog_forced_reset", map[string]any{"reason": e.Reason})
			d.registry.ForceClose(e.SessionID)
			if e.SessionID == d.curSession {
				d.curSession = ""
			}
		}
		if err := d.modes.Request(mode.Request{Target: types.ModeIdle, SessionID: e.SessionID, Reason: e.Reason}); err != nil {
			d.logger.Debug().Err(err).Msg("idle request after forced reset refused")
		}
	case ActionCloseSession:
		// Evict a superseded session without disturbing the current
		// cycle or the mode: cancel its downstream work, then drop the
		// record.
		d.logger.Warn().
			Str("session_id", string(e.SessionID)).
			Str("reason", e.Reason).
			Msg("evicting overdue superseded session")
		if err := d.interrupts.Request(ctx, e.SessionID, e.Reason, e.PressID); err != nil {
			d.logger.Debug().Err(err).Msg("eviction cancel deduplicated")
		}
		d.registry.AppendEvent(e.SessionID, "session_evicted", map[string]any{"reason": e.Reason})
		d.registry.ForceClose(e.SessionID)
	case ActionConfirmRelease:
		d.emit(ctx, d.detector.ForceRelease(time.Now()))
	case ActionReconcile:
		d.emit(ctx, d.detector.Reconcile(time.Now()))
	}
}

// finishSession converges a session toward teardown after a terminal
// event. failed triggers the cancel fan-out for still-active subsystems.
func (d *Dispatcher) finishSession(ctx context.Context, sid types.SessionID, reason string, failed bool) {
	if failed {
		if err := d.interrupts.Request(ctx, sid, reason, ""); err != nil {
			d.logger.Debug().Err(err).Str("session_id", string(sid)).Msg("terminal cancel deduplicated")
		}
	}

	// A terminated session always gets to release the application, even
	// when superseded; the controller coalesces duplicates.
	if err := d.modes.Request(mode.Request{Target: types.ModeIdle, SessionID: sid, Reason: reason}); err != nil {
		d.logger.Debug().Err(err).Msg("idle request refused")
	}

	d.tryClose(sid)
}

// staleCleanup tears down a superseded session's own record without
// touching shared state.
func (d *Dispatcher) staleCleanup(sid types.SessionID, cause string) {
	metricStaleIgnored.Inc()
	d.logger.Debug().Str("session_id", string(sid)).Str("cause", cause).Msg("superseded session, local cleanup only")
	d.tryClose(sid)
}

// tryClose closes the record once every declared subsystem has delivered
// its terminal event.
func (d *Dispatcher) tryClose(sid types.SessionID) {
	if len(d.registry.ActiveWork(sid)) > 0 {
		return
	}
	snap, ok := d.registry.Get(sid)
	if !ok {
		return
	}
	if err := d.registry.Close(sid); err != nil {
		return
	}
	if err := d.cycles.Finish(snap.PressID); err != nil {
		d.logger.Debug().Err(err).Msg("press cycle already moved on")
	}
	if sid == d.curSession {
		d.curSession = ""
	}
	d.logger.Info().Str("session_id", string(sid)).Msg("session closed")
}
