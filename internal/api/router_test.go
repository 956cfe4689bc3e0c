package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pushtalk/agent/internal/auth"
	"pushtalk/agent/internal/config"
	"pushtalk/agent/internal/hookstate"
	"pushtalk/agent/internal/loop"
	"pushtalk/agent/internal/mode"
	"pushtalk/agent/internal/presscycle"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/workerws"
)

type fakeIngress struct {
	events []loop.Event
}

func (f *fakeIngress) Enqueue(ev loop.Event) bool {
	f.events = append(f.events, ev)
	return true
}

type fixture struct {
	registry *sessions.Registry
	cycles   *presscycle.Tracker
	in       *fakeIngress
	srv      *httptest.Server
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Load()
	if mutate != nil {
		mutate(&cfg)
	}
	reg := sessions.New()
	cycles := presscycle.New()
	in := &fakeIngress{}
	h := NewHandlers(cfg, reg, cycles, mode.New(reg, cfg.Timing.ModeDedup),
		hookstate.New(), workerws.NewRegistry(), in)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &fixture{registry: reg, cycles: cycles, in: in, srv: srv}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestStatusReportsIdle(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/status")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["mode"] != "idle" {
		t.Fatalf("expected mode idle, got %v", body["mode"])
	}
	if _, ok := body["session"]; ok {
		t.Fatalf("expected no session in idle status")
	}
}

func TestEventsUnknownSession404(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/sessions/unknown/events")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInterruptRequiresSessionID(t *testing.T) {
	f := newFixture(t, nil)

	resp := postJSON(t, f.srv.URL+"/interrupt", map[string]any{"reason": "operator"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(f.in.events) != 0 {
		t.Fatalf("expected no events enqueued, got %d", len(f.in.events))
	}
}

func TestInterruptUnknownSession404(t *testing.T) {
	f := newFixture(t, nil)

	resp := postJSON(t, f.srv.URL+"/interrupt", map[string]any{"session_id": "nope"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInterruptEnqueuesEvent(t *testing.T) {
	f := newFixture(t, nil)
	pid := f.cycles.Begin()
	sid := f.registry.Open(pid)

	resp := postJSON(t, f.srv.URL+"/interrupt", map[string]any{
		"session_id": string(sid),
		"reason":     "user_abort",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(f.in.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.in.events))
	}
	ev, ok := f.in.events[0].(loop.InterruptEvent)
	if !ok || ev.SessionID != sid || ev.Reason != "user_abort" {
		t.Fatalf("unexpected event %+v", f.in.events[0])
	}
}

func TestDebugKeysInjectsEdge(t *testing.T) {
	f := newFixture(t, nil)

	resp := postJSON(t, f.srv.URL+"/debug/keys", map[string]any{
		"kind":      "down",
		"key":       "F13",
		"modifiers": []string{"alt"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(f.in.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.in.events))
	}
	if _, ok := f.in.events[0].(loop.KeyEdgeEvent); !ok {
		t.Fatalf("unexpected event %+v", f.in.events[0])
	}

	resp = postJSON(t, f.srv.URL+"/debug/keys", map[string]any{"kind": "sideways", "key": "f13"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad kind, got %d", resp.StatusCode)
	}
}

func TestMintWorkerTokenRoundTrips(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Worker.TokenSecret = "test-secret"
	})

	resp := postJSON(t, f.srv.URL+"/worker-token", map[string]any{"role": "capture"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	role, err := auth.ValidateWorkerToken("test-secret", body.Token, "capture", time.Now(), 30)
	if err != nil {
		t.Fatalf("minted token did not validate: %v", err)
	}
	if role != "capture" {
		t.Fatalf("expected role capture, got %q", role)
	}
}

func TestMintWorkerTokenRejectsUnknownRole(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Worker.TokenSecret = "test-secret"
	})

	resp := postJSON(t, f.srv.URL+"/worker-token", map[string]any{"role": "janitor"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
