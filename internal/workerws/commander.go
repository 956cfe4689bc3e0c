package workerws

import (
	"context"
	"time"

	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/types"
)

const sendTimeout = 5 * time.Second

// Commander sends control commands to workers over the registry. It
// satisfies the dispatch loop's Commander interface, including the
// interrupt fan-out targets.
type Commander struct {
	reg *Registry
}

func NewCommander(reg *Registry) *Commander {
	return &Commander{reg: reg}
}

func (c *Commander) send(ctx context.Context, role Role, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	msg.TsMs = time.Now().UnixMilli()
	err := c.reg.SendJSON(ctx, role, msg)
	if err != nil {
		logger := log.With("workerws")
		logger.Debug().
			Err(err).
			Str("role", string(role)).
			Str("type", msg.Type).
			Msg("command undelivered")
	} else {
		metricCommands.WithLabelValues(string(role), msg.Type).Inc()
	}
	return err
}

func (c *Commander) StartCapture(ctx context.Context, id types.SessionID) error {
	return c.send(ctx, RoleCapture, Message{Type: "capture_start", SessionID: string(id)})
}

func (c *Commander) StopCapture(ctx context.Context, id types.SessionID) error {
	return c.send(ctx, RoleCapture, Message{Type: "capture_stop", SessionID: string(id)})
}

func (c *Commander) StartRemote(ctx context.Context, id types.SessionID, text string) error {
	return c.send(ctx, RoleRemote, Message{Type: "remote_start", SessionID: string(id), Text: text})
}

func (c *Commander) CancelCapture(ctx context.Context, id types.SessionID) error {
	return c.send(ctx, RoleCapture, Message{Type: "capture_cancel", SessionID: string(id)})
}

func (c *Commander) CancelRemote(ctx context.Context, id types.SessionID) error {
	return c.send(ctx, RoleRemote, Message{Type: "remote_cancel", SessionID: string(id)})
}

func (c *Commander) CancelPlayback(ctx context.Context, id types.SessionID) error {
	return c.send(ctx, RolePlayback, Message{Type: "playback_cancel", SessionID: string(id)})
}
