// Package config loads termcored's daemon configuration: socket paths,
// session defaults, and recorder/log locations. Values are layered
// defaults < config file < environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSocketPathPosix is the fixed, spec-mandated default IPC path.
	DefaultSocketPathPosix = "/tmp/terminal-mcp-gui.sock"
	// DefaultSocketPathWindows is the fixed, spec-mandated default named pipe.
	DefaultSocketPathWindows = `\\.\pipe\terminal-mcp-gui`

	defaultCols       = 120
	defaultRows       = 40
	defaultScrollback = 1000
)

// RecorderMode selects which sessions get recorded and under what condition.
type RecorderMode string

const (
	RecorderAlways    RecorderMode = "always"
	RecorderOnFailure RecorderMode = "on-failure"
	RecorderOff       RecorderMode = "off"
)

// Config is the daemon-wide configuration, loaded once at startup.
type Config struct {
	Shell      string       `yaml:"shell,omitempty"`
	Cols       int          `yaml:"cols,omitempty"`
	Rows       int          `yaml:"rows,omitempty"`
	Scrollback int          `yaml:"scrollback,omitempty"`
	SocketPath string       `yaml:"socket_path,omitempty"`
	GuiAddr    string       `yaml:"gui_addr,omitempty"`
	RecordMode RecorderMode `yaml:"record_mode,omitempty"`
	RecordDir  string       `yaml:"record_dir,omitempty"`
	SessionLog string       `yaml:"session_log,omitempty"`
	LogLevel   string       `yaml:"log_level,omitempty"`

	IdleTimeLimit     time.Duration `yaml:"idle_time_limit,omitempty"`
	MaxDuration       time.Duration `yaml:"max_duration,omitempty"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout,omitempty"`
}

// Default returns the built-in configuration before any file/env layering.
func Default() *Config {
	socket := DefaultSocketPathPosix
	if runtime.GOOS == "windows" {
		socket = DefaultSocketPathWindows
	}
	return &Config{
		Shell:             defaultShell(),
		Cols:              defaultCols,
		Rows:              defaultRows,
		Scrollback:        defaultScrollback,
		SocketPath:        socket,
		GuiAddr:           "127.0.0.1:0",
		RecordMode:        RecorderOff,
		LogLevel:          "info",
		IdleTimeLimit:     5 * time.Second,
		MaxDuration:       0,
		InactivityTimeout: 0,
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Load reads the YAML config file (if present) over the defaults, then
// applies environment variable overrides, then fills in directory
// defaults that depend on XDG paths.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		dir, err := UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolve user config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.RecordDir == "" {
		dir, err := DefaultRecordingsDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolve recordings dir: %w", err)
		}
		cfg.RecordDir = dir
	}
	if cfg.SessionLog == "" {
		p, err := DefaultSessionLogPath()
		if err != nil {
			return nil, fmt.Errorf("config: resolve session log path: %w", err)
		}
		cfg.SessionLog = p
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TERMINAL_MCP_SOCKET"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("TERMINAL_MCP_GUI_ADDR"); v != "" {
		cfg.GuiAddr = v
	}
	if v := os.Getenv("TERMINAL_MCP_RECORD_DIR"); v != "" {
		cfg.RecordDir = v
	}
	if v := os.Getenv("TERMINAL_MCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
