package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"pushtalk/agent/internal/auth"
	"pushtalk/agent/internal/chord"
	"pushtalk/agent/internal/config"
	"pushtalk/agent/internal/hookstate"
	"pushtalk/agent/internal/loop"
	"pushtalk/agent/internal/mode"
	"pushtalk/agent/internal/presscycle"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/types"
	"pushtalk/agent/internal/workerws"
)

type Ingress interface {
	Enqueue(ev loop.Event) bool
}

type Handlers struct {
	cfg      config.Config
	registry *sessions.Registry
	cycles   *presscycle.Tracker
	modes    *mode.Controller
	hook     *hookstate.Monitor
	workers  *workerws.Registry
	in       Ingress
}

func NewHandlers(cfg config.Config, reg *sessions.Registry, cycles *presscycle.Tracker,
	modes *mode.Controller, hook *hookstate.Monitor, workers *workerws.Registry, in Ingress) *Handlers {
	return &Handlers{
		cfg:      cfg,
		registry: reg,
		cycles:   cycles,
		modes:    modes,
		hook:     hook,
		workers:  workers,
		in:       in,
	}
}

// HandleStatus reports the daemon's view of the world in one shot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	press := h.cycles.Snapshot()
	body := map[string]any{
		"mode": h.modes.Mode().String(),
		"press": map[string]any{
			"press_id":   press.ID,
			"state":      press.State.String(),
			"started_at": press.StartedAt,
		},
		"hook":    h.hook.Snapshot(),
		"workers": h.workers.Connected(),
	}
	if sid := h.registry.Current(); sid != "" {
		if snap, ok := h.registry.Get(sid); ok {
			body["session"] = snap
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	snap, ok := h.registry.Get(types.SessionID(id))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.registry.Get(types.SessionID(id)); !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.registry.Events(types.SessionID(id)),
	})
}

// HandleInterrupt accepts an operator-initiated cancel for a session.
// A missing session id is rejected outright rather than guessed at.
func (h *Handlers) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	if _, ok := h.registry.Get(types.SessionID(req.SessionID)); !ok {
		http.NotFound(w, r)
		return
	}
	if !h.in.Enqueue(loop.InterruptEvent{SessionID: types.SessionID(req.SessionID), Reason: req.Reason}) {
		http.Error(w, "dispatch queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// HandleDebugKeys injects a synthetic key edge, bypassing the hook
// worker. Useful when no hook is attached.
func (h *Handlers) HandleDebugKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind      string   `json:"kind"`
		Key       string   `json:"key"`
		Modifiers []string `json:"modifiers"`
		TsMs      int64    `json:"ts_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	e := chord.Edge{Key: strings.ToLower(req.Key), At: time.Now()}
	if req.TsMs > 0 {
		e.At = time.UnixMilli(req.TsMs)
	}
	switch req.Kind {
	case "down":
		e.Kind = chord.EdgeDown
	case "up":
		e.Kind = chord.EdgeUp
	case "modifiers":
		e.Kind = chord.EdgeModifiers
	default:
		http.Error(w, "kind must be down, up or modifiers", http.StatusBadRequest)
		return
	}
	for i, m := range req.Modifiers {
		req.Modifiers[i] = strings.ToLower(m)
	}
	e.Mods = chord.ParseModifiers(req.Modifiers)

	if !h.in.Enqueue(loop.KeyEdgeEvent{Edge: e}) {
		http.Error(w, "dispatch queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// HandleMintWorkerToken issues a short-lived bearer token a worker can
// present on its websocket connect.
func (h *Handlers) HandleMintWorkerToken(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Worker.TokenSecret == "" {
		http.Error(w, "worker auth not configured", http.StatusBadRequest)
		return
	}
	var req struct {
		Role       string `json:"role"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !workerws.ValidRole(workerws.Role(req.Role)) {
		http.Error(w, "missing or unknown role", http.StatusBadRequest)
		return
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = 3600
	}
	exp := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second).Unix()
	tok := auth.GenerateWorkerToken(h.cfg.Worker.TokenSecret, req.Role, exp)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   tok,
		"role":    req.Role,
		"expires": exp,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
