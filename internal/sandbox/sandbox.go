// Package sandbox builds a process-level isolation wrapper for session
// shells. Namespace/container sandbox backends (Apple Containers, Linux
// namespaces plus seccomp) shape a command by constructing a *exec.Cmd
// themselves, which cannot be expressed through ptyproc.SandboxWrapper's
// (shell, args) -> (shell, args) hook. What this package implements
// instead is the backend that already fits that shape: a scratch working
// directory plus TMPDIR redirection.
package sandbox

import (
	"fmt"
	"os"

	"github.com/termcore/termcored/internal/obslog"
)

// Config describes the isolation requested for one session's child.
type Config struct {
	Isolation Level
	Deny      []string // paths the caller wanted masked; logged, not enforced
}

// New allocates a scratch directory for cfg.Isolation and returns a
// (shell, args) rewriting function plus a cleanup that removes the
// directory. Privileged sessions pass through untouched.
func New(cfg Config) (wrap func(shell string, args []string) (string, []string), cleanup func() error, err error) {
	if cfg.Isolation == Privileged {
		return func(shell string, args []string) (string, []string) { return shell, args },
			func() error { return nil }, nil
	}

	dir, err := os.MkdirTemp("", "termcore-sandbox-*")
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox: create scratch dir: %w", err)
	}

	if len(cfg.Deny) > 0 {
		obslog.Log.Warn("sandbox: deny paths are not enforced by the fallback wrapper", "level", cfg.Isolation.String(), "count", len(cfg.Deny))
	}

	wrap = func(shell string, args []string) (string, []string) {
		full := append([]string{"-C", dir, "TMPDIR=" + dir, shell}, args...)
		return "/usr/bin/env", full
	}
	cleanup = func() error { return os.RemoveAll(dir) }
	return wrap, cleanup, nil
}
