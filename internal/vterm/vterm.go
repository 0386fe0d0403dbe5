// Package vterm maintains an in-memory VT100/xterm-compatible screen buffer
// and extracts OSC window-title sequences from raw PTY output, built on
// charmbracelet/x/vt and charmbracelet/ultraviolet with a ScrollOut-driven
// scrollback ring.
package vterm

import (
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// maxScrollbackLines bounds the ring regardless of the configured
// scrollback size.
const maxScrollbackLines = 50000

// Cursor is the 0-indexed cursor position within the visible grid.
type Cursor struct {
	X, Y int
}

// Emulator wraps charmbracelet/x/vt with a scrollback ring and plain-text
// extraction. All methods are safe for concurrent use.
type Emulator struct {
	emu *vt.Emulator

	mu           sync.Mutex
	scrollback   []string
	sbHead       int
	sbLen        int
	altScreen    bool
	cursorHidden bool
	cols, rows   int
	scrollbackSz int
}

// New creates an Emulator sized cols x rows, with up to scrollback lines of
// history retained (capped at maxScrollbackLines). scrollback <= 0 defaults
// to 1000.
func New(cols, rows, scrollback int) *Emulator {
	if scrollback <= 0 {
		scrollback = 1000
	}
	if scrollback > maxScrollbackLines {
		scrollback = maxScrollbackLines
	}

	e := &Emulator{
		emu:          vt.NewEmulator(cols, rows),
		scrollback:   make([]string, scrollback),
		cols:         cols,
		rows:         rows,
		scrollbackSz: scrollback,
	}
	e.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if e.altScreen {
				return
			}
			for _, line := range lines {
				e.pushScrollback(line.Render())
			}
		},
		ScrollbackClear: func() {
			for i := range e.scrollback {
				e.scrollback[i] = ""
			}
			e.sbHead, e.sbLen = 0, 0
		},
		AltScreen: func(on bool) {
			e.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			e.cursorHidden = !visible
		},
	})
	return e
}

// pushScrollback must be called with mu held (callbacks fire inside Write).
func (e *Emulator) pushScrollback(rendered string) {
	if e.sbLen == len(e.scrollback) {
		e.scrollback[e.sbHead] = ""
	}
	e.scrollback[e.sbHead] = rendered
	e.sbHead = (e.sbHead + 1) % len(e.scrollback)
	if e.sbLen < len(e.scrollback) {
		e.sbLen++
	}
}

// Write feeds raw PTY output to the emulator.
func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Write(p)
}

// Resize changes the terminal dimensions, preserving buffer content the
// underlying emulator is able to reflow.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Resize(cols, rows)
	e.cols, e.rows = cols, rows
}

// Dimensions returns the current cols, rows.
func (e *Emulator) Dimensions() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// GetCursor returns the 0-indexed cursor position.
func (e *Emulator) GetCursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.emu.CursorPosition()
	return Cursor{X: pos.X, Y: pos.Y}
}

// GetViewport returns exactly rows lines of the current visible grid,
// newline-joined, trailing-whitespace preserved as rendered.
func (e *Emulator) GetViewport() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Render()
}

// GetFullContent returns the scrollback followed by the visible grid, with
// trailing empty lines trimmed, newline-joined.
func (e *Emulator) GetFullContent() string {
	e.mu.Lock()
	scroll := e.scrollbackLinesLocked()
	viewport := e.emu.Render()
	e.mu.Unlock()

	lines := append(scroll, strings.Split(viewport, "\n")...)
	end := len(lines)
	for end > 0 && strings.TrimRight(lines[end-1], " \t\r") == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// scrollbackLinesLocked returns scrollback oldest-first. Must hold mu.
func (e *Emulator) scrollbackLinesLocked() []string {
	if e.sbLen == 0 {
		return nil
	}
	lines := make([]string, e.sbLen)
	start := (e.sbHead - e.sbLen + len(e.scrollback)) % len(e.scrollback)
	for i := 0; i < e.sbLen; i++ {
		lines[i] = e.scrollback[(start+i)%len(e.scrollback)]
	}
	return lines
}

// ScrollbackLen reports the number of scrollback lines currently retained.
func (e *Emulator) ScrollbackLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sbLen
}

// Clear resets the visible grid and scrollback, equivalent to the terminal
// receiving erase-in-display-all followed by cursor home.
func (e *Emulator) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Write([]byte("\x1b[2J\x1b[3J\x1b[H"))
	for i := range e.scrollback {
		e.scrollback[i] = ""
	}
	e.sbHead, e.sbLen = 0, 0
}

// Close releases the underlying emulator resources.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Close()
}
