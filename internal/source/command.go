package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// DefaultGrace is how long a follow command gets to exit after SIGTERM.
const DefaultGrace = 2 * time.Second

// Command streams the stdout of a long-running system log command, such as
// `logcat` or `journalctl -f`.
type Command struct {
	// Clear runs to completion before Follow starts. Optional.
	Clear []string

	// Follow is the streaming command. Required.
	Follow []string

	// Env is added to the inherited environment.
	Env map[string]string

	// Grace is the wait between SIGTERM and SIGKILL. Zero means DefaultGrace.
	Grace time.Duration

	Log *slog.Logger
}

// Open runs the clear command, then starts the follow command in its own
// process group. Closing the returned stream terminates the whole group.
func (c Command) Open(ctx context.Context) (io.ReadCloser, error) {
	if len(c.Follow) == 0 {
		return nil, errors.New("no follow command configured")
	}
	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	if len(c.Clear) > 0 {
		clearCmd := exec.CommandContext(ctx, c.Clear[0], c.Clear[1:]...)
		clearCmd.Env = c.buildEnv()
		if out, err := clearCmd.CombinedOutput(); err != nil {
			// A failed clear only means old lines show up again.
			log.Warn("log clear command failed",
				"command", strings.Join(c.Clear, " "),
				"error", err,
				"output", strings.TrimSpace(string(out)))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	// Not CommandContext: termination goes through Close so the whole group goes.
	cmd := exec.Command(c.Follow[0], c.Follow[1:]...)
	cmd.Env = c.buildEnv()
	cmd.Stdout = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", c.Follow[0], err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	grace := c.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	p := &process{
		r:     pr,
		cmd:   cmd,
		grace: grace,
		log:   log.With("pid", cmd.Process.Pid),
		done:  make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	log.Debug("log source started", "command", strings.Join(c.Follow, " "), "pid", cmd.Process.Pid)
	return p, nil
}

func (c Command) buildEnv() []string {
	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// process is a running follow command.
type process struct {
	r     *os.File
	cmd   *exec.Cmd
	grace time.Duration
	log   *slog.Logger

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func (p *process) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Close sends SIGTERM to the process group, waits up to the grace period,
// then SIGKILLs whatever is left, including children that left the group.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.terminate()
		p.closeErr = p.r.Close()
	})
	return p.closeErr
}

func (p *process) terminate() {
	pid := p.cmd.Process.Pid
	children := childPIDs(pid)

	select {
	case <-p.done:
	default:
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		timer := time.NewTimer(p.grace)
		select {
		case <-p.done:
		case <-timer.C:
			p.log.Warn("log source ignored SIGTERM, killing", "grace", p.grace)
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			<-p.done
		}
		timer.Stop()
	}

	// Sweep group members that outlived the leader.
	_ = syscall.Kill(-pid, syscall.SIGKILL)

	if proc, err := ps.FindProcess(pid); err == nil && proc != nil {
		p.log.Warn("log source still in the process table after exit", "executable", proc.Executable())
	}

	for _, child := range children {
		proc, err := ps.FindProcess(child)
		if err != nil || !leftoverChild(proc, pid) {
			continue
		}
		p.log.Debug("killing leftover log source child", "child", child, "executable", proc.Executable())
		_ = syscall.Kill(child, syscall.SIGKILL)
	}

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		p.log.Debug("log source wait failed", "error", p.waitErr)
	}
}

// leftoverChild reports whether proc still looks like a child of the
// leader: its parent is the leader or, once the leader is reaped, init. A
// PID reused by an unrelated process has some other parent.
func leftoverChild(proc ps.Process, leader int) bool {
	if proc == nil {
		return false
	}
	return proc.PPid() == leader || proc.PPid() == 1
}

// childPIDs lists the direct children of pid.
func childPIDs(pid int) []int {
	procs, err := ps.Processes()
	if err != nil {
		return nil
	}
	var out []int
	for _, proc := range procs {
		if proc.PPid() == pid {
			out = append(out, proc.Pid())
		}
	}
	return out
}
