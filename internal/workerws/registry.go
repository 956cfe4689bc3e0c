package workerws

import (
	"context"
	"encoding/json"
	"sync"

	ws "nhooyr.io/websocket"
)

// Role identifies an external collaborator on the worker plane.
type Role string

const (
	RoleHook     Role = "hook"
	RoleCapture  Role = "capture"
	RoleRemote   Role = "remote"
	RolePlayback Role = "playback"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleHook, RoleCapture, RoleRemote, RolePlayback:
		return true
	}
	return false
}

// Registry keeps at most one worker connection per role.
type Registry struct {
	mu    sync.Mutex
	conns map[Role]*ws.Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[Role]*ws.Conn)}
}

// Replace sets the connection for a role and closes the previous one if present.
func (r *Registry) Replace(role Role, c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[role]; ok && old != nil {
		_ = old.Close(ws.StatusNormalClosure, "replaced")
		prevClosed = true
	}
	r.conns[role] = c
	return
}

// Remove drops the role's connection only if it is still the given one,
// so a replaced connection's teardown cannot evict its successor.
func (r *Registry) Remove(role Role, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[role] == c {
		delete(r.conns, role)
	}
}

// Connected reports which roles currently have a worker attached.
func (r *Registry) Connected() []Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Role, 0, len(r.conns))
	for role := range r.conns {
		out = append(out, role)
	}
	return out
}

// Has reports whether a worker is attached for the role.
func (r *Registry) Has(role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[role] != nil
}

// SendJSON delivers a message to the role's worker, if one is attached.
func (r *Registry) SendJSON(ctx context.Context, role Role, v any) error {
	r.mu.Lock()
	c := r.conns[role]
	r.mu.Unlock()
	if c == nil {
		return ErrWorkerAbsent
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
