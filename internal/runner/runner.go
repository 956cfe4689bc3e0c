// Package runner supervises the local worker processes the daemon
// launches on its own behalf: the key hook, speech capture and
// playback. One process per role, keyed by role name.
package runner

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"pushtalk/agent/internal/log"
)

// Runner starts and stops worker processes by role.
type Runner interface {
	Start(role string, cmdline string, env map[string]string) error
	Stop(role string) error
	IsRunning(role string) bool
}

// ExitCallback is invoked when a role's worker process exits,
// naturally or killed.
type ExitCallback func(role string, err error)
type StartCallback func(role string, pid int)

type LocalRunner struct {
	onExit  ExitCallback
	onStart StartCallback

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func NewLocalRunner(onExit ExitCallback, onStart StartCallback) *LocalRunner {
	return &LocalRunner{
		onExit:  onExit,
		onStart: onStart,
		procs:   make(map[string]*proc),
	}
}

func (r *LocalRunner) IsRunning(role string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[role]
	return ok
}

func (r *LocalRunner) Start(role string, cmdline string, env map[string]string) error {
	if strings.TrimSpace(cmdline) == "" {
		return errors.New("worker command not configured")
	}

	parts := strings.Fields(cmdline)
	name, args := parts[0], parts[1:]
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)

	// Reserve slot to prevent TOCTOU duplicate starts
	r.mu.Lock()
	if _, exists := r.procs[role]; exists {
		r.mu.Unlock()
		cancel()
		return errors.New("worker already running for role")
	}
	r.procs[role] = &proc{cmd: nil, cancel: cancel}
	r.mu.Unlock()

	cmd.Env = append(cmd.Env, envFromOS()...)
	cmd.Env = append(cmd.Env, envToList(env)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.release(role)
		cancel()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.release(role)
		cancel()
		return err
	}

	if err := cmd.Start(); err != nil {
		r.release(role)
		cancel()
		return err
	}

	r.mu.Lock()
	r.procs[role] = &proc{cmd: cmd, cancel: cancel}
	r.mu.Unlock()

	if r.onStart != nil && cmd.Process != nil {
		r.onStart(role, cmd.Process.Pid)
	}

	go r.stream(role, "stdout", stdout)
	go r.stream(role, "stderr", stderr)

	go func() {
		err := cmd.Wait()
		r.release(role)
		if r.onExit != nil {
			r.onExit(role, err)
		}
	}()

	return nil
}

func (r *LocalRunner) Stop(role string) error {
	r.mu.Lock()
	p, ok := r.procs[role]
	r.mu.Unlock()
	if !ok {
		return errors.New("worker not running for role")
	}
	// request context cancel, then force kill after grace
	p.cancel()
	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(3 * time.Second):
		_ = p.cmd.Process.Kill()
		return nil
	}
}

func (r *LocalRunner) release(role string) {
	r.mu.Lock()
	delete(r.procs, role)
	r.mu.Unlock()
}

func envToList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func envFromOS() []string {
	// Clone to avoid accidental modification of the returned backing array
	base := os.Environ()
	out := make([]string, len(base))
	copy(out, base)
	return out
}

func (r *LocalRunner) stream(role, stream string, rdr interface{ Read([]byte) (int, error) }) {
	logger := log.With("worker." + role)
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		logger.Debug().Str("stream", stream).Msg(scanner.Text())
	}
}
