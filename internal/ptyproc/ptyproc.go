// Package ptyproc spawns child processes under a pseudo-terminal and
// streams their I/O: creack/pty spawn, constrained environment
// construction, and SIGHUP-then-close teardown.
package ptyproc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Sentinel errors surfaced to callers.
var (
	ErrSpawnFailed = errors.New("ptyproc: spawn failed")
	ErrClosed      = errors.New("ptyproc: closed")
)

// ReentryEnvVar is set to "1" in every spawned child so that a termcored
// instance spawned from inside another termcored session can detect the
// reentry and refuse to start.
const ReentryEnvVar = "TERMINAL_MCP"

// SandboxWrapper rewrites (shell, args) before fork, e.g. to run the child
// under an OS-level sandbox. It is opaque to this package.
type SandboxWrapper func(shell string, args []string) (string, []string)

// SpawnOptions configures a new PtyProcess.
type SpawnOptions struct {
	Shell   string
	Args    []string
	Env     []string // additive; merged over os.Environ()
	Cwd     string
	Cols    uint16
	Rows    uint16
	Wrapper SandboxWrapper

	// NativeShell, when true, sets only LANG (never LC_CTYPE) and strips
	// inherited LC_* vars from the child environment, to avoid SSH
	// SendEnv LC_* forwarding surprises.
	NativeShell bool
	// SetLocaleEnv enables the locale-safeguard pass controlled by
	// NativeShell.
	SetLocaleEnv bool
}

// Process wraps a single child running inside a PTY.
type Process struct {
	master *os.File
	cmd    *exec.Cmd

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	cols, rows uint16
}

// Spawn starts shell+args under a new PTY sized cols x rows. If
// opts.Wrapper is set, (shell, args) are rewritten before fork.
func Spawn(opts SpawnOptions) (*Process, error) {
	if opts.Shell == "" {
		return nil, fmt.Errorf("%w: empty shell", ErrSpawnFailed)
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}
	if opts.Rows == 0 {
		opts.Rows = 40
	}

	shell, args := opts.Shell, opts.Args
	if opts.Wrapper != nil {
		shell, args = opts.Wrapper(shell, args)
	}

	env := buildEnv(opts)
	for _, e := range env {
		if e == ReentryEnvVar+"=1" {
			return nil, fmt.Errorf("%w: refusing to spawn inside an existing terminal-mcp session (reentry)", ErrSpawnFailed)
		}
	}
	env = append(env, ReentryEnvVar+"=1")

	cmd := exec.Command(shell, args...)
	cmd.Env = env
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	return &Process{
		master: master,
		cmd:    cmd,
		cols:   opts.Cols,
		rows:   opts.Rows,
	}, nil
}

func buildEnv(opts SpawnOptions) []string {
	base := os.Environ()

	if opts.NativeShell {
		filtered := base[:0]
		for _, e := range base {
			if hasLCPrefix(e) {
				continue
			}
			filtered = append(filtered, e)
		}
		base = filtered
	}

	env := make([]string, 0, len(base)+len(opts.Env)+1)
	env = append(env, base...)
	env = append(env, opts.Env...)

	if opts.SetLocaleEnv {
		env = applyLocaleSafeguard(env, opts.NativeShell)
	}
	return env
}

func hasLCPrefix(kv string) bool {
	return len(kv) > 3 && kv[:3] == "LC_"
}

// ReadLoop blocks reading from the PTY master, invoking onData for every
// non-empty read and returning when the PTY is closed or the child exits
// (EOF). It never transcodes or line-buffers.
func (p *Process) ReadLoop(onData func([]byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onData(chunk)
		}
		if err != nil {
			return
		}
	}
}

// Wait blocks until the child process exits and returns its exit code.
// If the exit code cannot be determined a synthetic -1 is returned.
func (p *Process) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Write sends bytes to the child's stdin via the PTY master.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.master.Write(data)
}

// Resize changes the PTY window size. cols=0 or rows=0 is rejected.
func (p *Process) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("ptyproc: resize rejects zero dimension (cols=%d rows=%d)", cols, rows)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := pty.Setsize(p.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return err
	}
	p.cols, p.rows = cols, rows
	return nil
}

// CurrentProcessName returns the PTY's foreground process name on a
// best-effort basis, bounded to a few hundred milliseconds. It returns
// "shell" on any failure, never blocking the caller beyond the bound.
func (p *Process) CurrentProcessName() string {
	type result struct{ name string }
	ch := make(chan result, 1)
	go func() {
		ch <- result{name: foregroundProcessName(p.master)}
	}()
	select {
	case r := <-ch:
		if r.name == "" {
			return "shell"
		}
		return r.name
	case <-time.After(300 * time.Millisecond):
		slog.Default().Debug("ptyproc: current process name lookup timed out")
		return "shell"
	}
}

// Kill sends SIGHUP/terminate to the child and closes the master fd. It is
// idempotent.
func (p *Process) Kill() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGHUP)
		}
		err = p.master.Close()
	})
	return err
}

// Dimensions returns the last cols/rows successfully applied.
func (p *Process) Dimensions() (cols, rows uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Pid returns the child process id, or 0 if unavailable.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
