// Package interrupt owns "stop everything for this session", fanning a
// single accepted cancellation out to capture, remote, and playback.
package interrupt

import (
	"context"
	"errors"
	"sync"
	"time"

	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/types"
)

var (
	// ErrMissingSession rejects a cancel with no resolvable session id.
	// Falling back to "whatever session was active most recently" is
	// explicitly disallowed.
	ErrMissingSession = errors.New("interrupt request requires session id")

	// ErrDuplicate marks a request deduplicated by press id or by the
	// (session, reason) window.
	ErrDuplicate = errors.New("duplicate interrupt request")
)

// CancelSink receives the fan-out. Every downstream consumer must be
// idempotent to a cancel it does not need.
type CancelSink interface {
	CancelCapture(ctx context.Context, id types.SessionID) error
	CancelRemote(ctx context.Context, id types.SessionID) error
	CancelPlayback(ctx context.Context, id types.SessionID) error
}

// CycleSource reports the live press id. Implemented by the press cycle
// tracker; used to keep a press's dedup entry for the press's whole
// lifetime instead of a time horizon.
type CycleSource interface {
	Current() types.PressID
}

type Coordinator struct {
	sink        CancelSink
	cycles      CycleSource
	dedupWindow time.Duration

	mu       sync.Mutex
	byPress  map[types.PressID]time.Time
	byReason map[string]time.Time
}

func New(sink CancelSink, cycles CycleSource, dedupWindow time.Duration) *Coordinator {
	return &Coordinator{
		sink:        sink,
		cycles:      cycles,
		dedupWindow: dedupWindow,
		byPress:     make(map[types.PressID]time.Time),
		byReason:    make(map[string]time.Time),
	}
}

// Request validates, deduplicates, and on acceptance fans the cancel out
// exactly once. Fan-out delivery is best effort; absent workers are
// logged, not propagated.
func (c *Coordinator) Request(ctx context.Context, sessionID types.SessionID, reason string, pressID types.PressID) error {
	logger := log.With("interrupt")

	if sessionID == "" {
		metricContractViolations.Inc()
		logger.Warn().
			Str("reason", reason).
			Str("press_id", string(pressID)).
			Msg("interrupt without resolvable session rejected")
		return ErrMissingSession
	}

	now := time.Now()
	reasonKey := string(sessionID) + "/" + reason

	c.mu.Lock()
	c.prune(now)
	if pressID != "" {
		if _, seen := c.byPress[pressID]; seen {
			c.mu.Unlock()
			metricDeduped.Inc()
			return ErrDuplicate
		}
	}
	if at, seen := c.byReason[reasonKey]; seen && now.Sub(at) < c.dedupWindow {
		c.mu.Unlock()
		metricDeduped.Inc()
		return ErrDuplicate
	}
	if pressID != "" {
		c.byPress[pressID] = now
	}
	c.byReason[reasonKey] = now
	c.mu.Unlock()

	metricAccepted.Inc()
	logger.Info().
		Str("session_id", string(sessionID)).
		Str("reason", reason).
		Str("press_id", string(pressID)).
		Msg("interrupt accepted, fanning out")

	// Fan out regardless of which subsystems are currently active.
	if err := c.sink.CancelCapture(ctx, sessionID); err != nil {
		logger.Debug().Err(err).Str("session_id", string(sessionID)).Msg("capture cancel undelivered")
	}
	if err := c.sink.CancelRemote(ctx, sessionID); err != nil {
		logger.Debug().Err(err).Str("session_id", string(sessionID)).Msg("remote cancel undelivered")
	}
	if err := c.sink.CancelPlayback(ctx, sessionID); err != nil {
		logger.Debug().Err(err).Str("session_id", string(sessionID)).Msg("playback cancel undelivered")
	}
	return nil
}

// prune drops old dedup entries; caller holds mu. Reason keys age out on
// a time horizon. A press entry is held for the whole lifetime of its
// press cycle, so a physical gesture can never trigger a second fan-out
// no matter how long it lasts; entries for ended cycles age out.
func (c *Coordinator) prune(now time.Time) {
	horizon := 10 * c.dedupWindow
	var live types.PressID
	if c.cycles != nil {
		live = c.cycles.Current()
	}
	for id, at := range c.byPress {
		if id == live {
			continue
		}
		if now.Sub(at) > horizon {
			delete(c.byPress, id)
		}
	}
	for key, at := range c.byReason {
		if now.Sub(at) > horizon {
			delete(c.byReason, key)
		}
	}
}
