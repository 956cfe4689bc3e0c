package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"pushtalk/agent/internal/api"
	"pushtalk/agent/internal/auth"
	"pushtalk/agent/internal/chord"
	"pushtalk/agent/internal/config"
	"pushtalk/agent/internal/hookstate"
	"pushtalk/agent/internal/interrupt"
	"pushtalk/agent/internal/log"
	"pushtalk/agent/internal/loop"
	"pushtalk/agent/internal/mode"
	"pushtalk/agent/internal/presscycle"
	"pushtalk/agent/internal/runner"
	"pushtalk/agent/internal/sessions"
	"pushtalk/agent/internal/watchdog"
	"pushtalk/agent/internal/workerws"
)

func main() {
	var (
		envFile = pflag.String("env-file", ".env", "optional env file to load")
		port    = pflag.String("port", "", "listen port (overrides PORT)")
	)
	pflag.Parse()

	// Load .env file if present (ignored if missing)
	_ = godotenv.Load(*envFile)

	cfg := config.Load()
	if *port != "" {
		cfg.Server.Port = *port
	}
	log.Configure(log.Config{Level: cfg.Server.LogLevel})
	logger := log.With("daemon")

	hookMonitor := hookstate.New()
	spec := chord.Spec{Key: cfg.Chord.Key, Mods: chord.ParseModifiers(cfg.Chord.Modifiers)}
	detector := chord.New(spec, hookMonitor, cfg.Timing.LongPress, cfg.Timing.ConfirmWindow, cfg.Timing.ChordStale)

	cycles := presscycle.New()
	registry := sessions.New()
	modes := mode.New(registry, cfg.Timing.ModeDedup)

	wsReg := workerws.NewRegistry()
	commander := workerws.NewCommander(wsReg)
	interrupts := interrupt.New(commander, cycles, cfg.Timing.InterruptDedup)

	disp := loop.New(detector, cycles, registry, modes, interrupts, hookMonitor, commander)
	wd := watchdog.New(cycles, registry, hookMonitor, disp,
		cfg.Timing.WatchdogTick, cfg.Timing.StuckAfter, cfg.Timing.ActionGap)

	wss := workerws.NewServer(cfg, wsReg, disp)
	h := api.NewHandlers(cfg, registry, cycles, modes, hookMonitor, wsReg, disp)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.HandleFunc("/ws/worker", wss.HandleWorkerWS)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)
	go wd.Run(ctx)

	// Mirror mode changes to the hook worker so it can drive any
	// indicator it has.
	go func() {
		changes := modes.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ch := <-changes:
				_ = wsReg.SendJSON(ctx, workerws.RoleHook, workerws.Message{
					Type:      "mode",
					SessionID: string(ch.SessionID),
					Payload:   map[string]any{"mode": ch.New.String(), "reason": ch.Reason},
				})
			}
		}
	}()

	procs := runner.NewLocalRunner(func(role string, err error) {
		if err != nil {
			logger.Warn().Err(err).Str("role", role).Msg("worker process exited")
		} else {
			logger.Info().Str("role", role).Msg("worker process exited")
		}
		if role == string(workerws.RoleHook) {
			disp.Enqueue(loop.HookStateEvent{ChordHeld: false, HookEnabled: false, At: time.Now()})
		}
	}, func(role string, pid int) {
		logger.Info().Str("role", role).Int("pid", pid).Msg("worker process started")
	})
	launchWorkers(cfg, procs, logger)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info().Msg("shutdown signal received; stopping")
		for _, role := range []workerws.Role{workerws.RoleHook, workerws.RoleCapture, workerws.RolePlayback} {
			if procs.IsRunning(string(role)) {
				_ = procs.Stop(string(role))
			}
		}
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info().Str("addr", addr).Msg("daemon listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

// launchWorkers starts the locally managed worker processes that have a
// command configured. Each gets its own role token on the environment.
func launchWorkers(cfg config.Config, procs *runner.LocalRunner, logger zerolog.Logger) {
	cmds := map[string]string{
		string(workerws.RoleHook):     cfg.Worker.HookCmd,
		string(workerws.RoleCapture):  cfg.Worker.CaptureCmd,
		string(workerws.RolePlayback): cfg.Worker.PlaybackCmd,
	}
	for role, cmdline := range cmds {
		if cmdline == "" {
			continue
		}
		env := map[string]string{
			"PTK_DAEMON_URL":  "ws://127.0.0.1:" + cfg.Server.Port + "/ws/worker",
			"PTK_WORKER_ROLE": role,
		}
		if cfg.Worker.TokenSecret != "" {
			exp := time.Now().Add(24 * time.Hour).Unix()
			env["PTK_WORKER_TOKEN"] = auth.GenerateWorkerToken(cfg.Worker.TokenSecret, role, exp)
		}
		if err := procs.Start(role, cmdline, env); err != nil {
			logger.Warn().Err(err).Str("role", role).Msg("worker launch failed")
		}
	}
}

func logMiddleware(next http.Handler) http.Handler {
	logger := log.With("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
