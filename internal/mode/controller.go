// Package mode owns the application mode. Every other component requests
// transitions through a ModeRequest; nothing else assigns the mode.
package mode

import (
	"errors"
	"sync"
	"time"

	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/types"
)

var (
	// ErrMissingSession rejects a Processing request without a session id.
	// A data-contract violation, never guessed around.
	ErrMissingSession = errors.New("mode request requires session id")

	// ErrStaleSession rejects escalating requests on behalf of a session
	// that has been superseded.
	ErrStaleSession = errors.New("mode request from stale session")
)

// Request asks the controller for a transition.
type Request struct {
	Target    types.Mode
	SessionID types.SessionID
	Reason    string
}

// Change is published to subscribers, exactly once per applied transition.
type Change struct {
	Old       types.Mode
	New       types.Mode
	SessionID types.SessionID
	Reason    string
}

type lastRequest struct {
	target  types.Mode
	session types.SessionID
	at      time.Time
}

// Controller is the single writer of the mode field.
type Controller struct {
	registry    *sessions.Registry
	dedupWindow time.Duration

	mu   sync.Mutex
	mode types.Mode
	last lastRequest
	subs []chan Change
}

func New(registry *sessions.Registry, dedupWindow time.Duration) *Controller {
	return &Controller{registry: registry, dedupWindow: dedupWindow}
}

// Mode returns a snapshot of the current mode.
func (c *Controller) Mode() types.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Subscribe returns a channel receiving one Change per applied transition.
// Slow subscribers drop changes rather than blocking the controller.
func (c *Controller) Subscribe() <-chan Change {
	ch := make(chan Change, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Request applies, coalesces, or rejects a transition request.
func (c *Controller) Request(req Request) error {
	logger := log.With("mode")

	if req.Target == types.ModeProcessing && req.SessionID == "" {
		metricContractViolations.Inc()
		logger.Warn().Str("reason", req.Reason).Msg("processing request without session id rejected")
		return ErrMissingSession
	}

	// Escalating on behalf of a superseded session is refused; terminal
	// transitions are honored so a finished session can always release
	// the application.
	if escalating(req.Target) && req.SessionID != "" && !c.registry.IsCurrent(req.SessionID) {
		metricStaleRejected.Inc()
		logger.Debug().
			Str("session_id", string(req.SessionID)).
			Str("target", req.Target.String()).
			Msg("escalating request from stale session ignored")
		return ErrStaleSession
	}

	c.mu.Lock()
	now := time.Now()
	if c.last.target == req.Target && c.last.session == req.SessionID && now.Sub(c.last.at) < c.dedupWindow {
		c.mu.Unlock()
		metricCoalesced.Inc()
		return nil
	}
	c.last = lastRequest{target: req.Target, session: req.SessionID, at: now}

	if c.mode == req.Target {
		c.mu.Unlock()
		return nil
	}

	old := c.mode
	c.mode = req.Target
	subs := make([]chan Change, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	metricTransitions.WithLabelValues(old.String(), req.Target.String()).Inc()
	logger.Info().
		Str("old", old.String()).
		Str("new", req.Target.String()).
		Str("session_id", string(req.SessionID)).
		Str("reason", req.Reason).
		Msg("mode changed")

	change := Change{Old: old, New: req.Target, SessionID: req.SessionID, Reason: req.Reason}
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			metricDroppedChanges.Inc()
		}
	}
	return nil
}

func escalating(m types.Mode) bool {
	return m == types.ModeListening || m == types.ModeProcessing
}
