// Package workerws is the websocket control plane between the daemon and
// its external collaborators: the key hook, speech capture, the remote
// pipeline, and playback. Inbound messages become typed loop events;
// outbound commands carry the session identity they act on.
package workerws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"pushtalk/agent/internal/auth"
	"pushtalk/agent/internal/chord"
	"pushtalk/agent/internal/config"
	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/loop"
	"pushtalk/agent/internal/types"
)

// ErrWorkerAbsent is returned when no worker is attached for a role.
var ErrWorkerAbsent = errors.New("no worker connected for role")

// Message is the JSON frame exchanged with workers.
type Message struct {
	Type      string         `json:"type"`
	TsMs      int64          `json:"ts_ms,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Text      string         `json:"text,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Ingress interface {
	Enqueue(ev loop.Event) bool
}

type Server struct {
	cfg config.Config
	reg *Registry
	in  Ingress
}

func NewServer(cfg config.Config, reg *Registry, in Ingress) *Server {
	return &Server{cfg: cfg, reg: reg, in: in}
}

// HandleWorkerWS upgrades a worker connection and pumps its messages
// into the dispatch loop.
func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
	logger := log.With("workerws")

	role := Role(r.URL.Query().Get("role"))
	if !ValidRole(role) {
		http.Error(w, "missing or unknown role", http.StatusBadRequest)
		return
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if s.cfg.Worker.TokenSecret == "" {
		http.Error(w, "worker auth not configured", http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if _, err := auth.ValidateWorkerToken(s.cfg.Worker.TokenSecret, token, string(role), time.Now(), s.cfg.Worker.TokenSkewSecs); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ws accept failed")
		return
	}
	if replaced := s.reg.Replace(role, c); replaced {
		logger.Info().Str("role", string(role)).Msg("previous worker replaced")
	}
	logger.Info().Str("role", string(role)).Msg("worker connected")

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Str("role", string(role)).Msg("invalid worker message")
			continue
		}
		s.dispatch(role, msg)
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.reg.Remove(role, c)
	logger.Info().Str("role", string(role)).Msg("worker disconnected")

	if role == RoleHook {
		// Losing the hook means no more edges; let the watchdog see a
		// degraded capability rather than a silently frozen snapshot.
		s.in.Enqueue(loop.HookStateEvent{ChordHeld: false, HookEnabled: false, At: time.Now()})
	}
}

// dispatch translates one worker message into a loop event.
func (s *Server) dispatch(role Role, msg Message) {
	sid := types.SessionID(msg.SessionID)

	switch msg.Type {
	case "key_edge":
		s.in.Enqueue(loop.KeyEdgeEvent{Edge: edgeFromPayload(msg)})
	case "key_state":
		held, _ := msg.Payload["chord_held"].(bool)
		enabled, ok := msg.Payload["hook_enabled"].(bool)
		if !ok {
			enabled = true
		}
		s.in.Enqueue(loop.HookStateEvent{ChordHeld: held, HookEnabled: enabled, At: time.Now()})
	case "speech_completed":
		s.in.Enqueue(loop.SpeechEvent{SessionID: sid, Kind: loop.SpeechCompleted, Text: msg.Text})
	case "speech_failed":
		s.in.Enqueue(loop.SpeechEvent{SessionID: sid, Kind: loop.SpeechFailed, Reason: msg.Reason})
	case "remote_started":
		s.in.Enqueue(loop.RemoteEvent{SessionID: sid, Kind: loop.RemoteStarted})
	case "remote_chunk":
		s.in.Enqueue(loop.RemoteEvent{SessionID: sid, Kind: loop.RemoteChunk})
	case "remote_completed":
		s.in.Enqueue(loop.RemoteEvent{SessionID: sid, Kind: loop.RemoteCompleted})
	case "remote_failed":
		s.in.Enqueue(loop.RemoteEvent{SessionID: sid, Kind: loop.RemoteFailed, Reason: msg.Reason})
	case "playback_started":
		s.in.Enqueue(loop.PlaybackEvent{SessionID: sid, Kind: loop.PlaybackStarted})
	case "playback_completed":
		s.in.Enqueue(loop.PlaybackEvent{SessionID: sid, Kind: loop.PlaybackCompleted})
	case "playback_cancelled":
		s.in.Enqueue(loop.PlaybackEvent{SessionID: sid, Kind: loop.PlaybackCancelled, Reason: msg.Reason})
	case "playback_failed":
		s.in.Enqueue(loop.PlaybackEvent{SessionID: sid, Kind: loop.PlaybackFailed, Reason: msg.Reason})
	default:
		// Unknown types are ignored for forward compatibility.
		logger := log.With("workerws")
		logger.Debug().Str("role", string(role)).Str("type", msg.Type).Msg("unknown worker message")
	}
}

func edgeFromPayload(msg Message) chord.Edge {
	e := chord.Edge{At: time.Now()}
	if msg.TsMs > 0 {
		e.At = time.UnixMilli(msg.TsMs)
	}
	if kind, ok := msg.Payload["kind"].(string); ok {
		switch kind {
		case "up":
			e.Kind = chord.EdgeUp
		case "modifiers":
			e.Kind = chord.EdgeModifiers
		default:
			e.Kind = chord.EdgeDown
		}
	}
	if key, ok := msg.Payload["key"].(string); ok {
		e.Key = strings.ToLower(key)
	}
	if mods, ok := msg.Payload["modifiers"].([]any); ok {
		names := make([]string, 0, len(mods))
		for _, m := range mods {
			if s, ok := m.(string); ok {
				names = append(names, strings.ToLower(s))
			}
		}
		e.Mods = chord.ParseModifiers(names)
	}
	return e
}
