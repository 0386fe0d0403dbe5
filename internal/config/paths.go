package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns the directory holding termcored's config file,
// honoring XDG_CONFIG_HOME.
func UserConfigDir() (string, error) {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "termcored"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "termcored"), nil
}

// StateDir returns the base directory for recordings and session logs,
// honoring XDG_STATE_HOME when set.
func StateDir() (string, error) {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state"), nil
}

// DefaultRecordingsDir returns <XDG_STATE_HOME>/terminal-mcp/recordings,
// overridable by TERMINAL_MCP_RECORD_DIR.
func DefaultRecordingsDir() (string, error) {
	if v := os.Getenv("TERMINAL_MCP_RECORD_DIR"); v != "" {
		return v, nil
	}
	state, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "terminal-mcp", "recordings"), nil
}

// DefaultSessionLogPath returns <XDG_STATE_HOME>/terminal-mcp/session.log.
func DefaultSessionLogPath() (string, error) {
	state, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "terminal-mcp", "session.log"), nil
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
