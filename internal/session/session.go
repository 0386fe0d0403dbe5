// Package session glues a PTY, a terminal emulator, and an OSC title
// parser into a single observable unit that publishes typed events and
// answers screenshot/content queries: one goroutine owns the PTY reader, the
// emulator's screen buffer backs content queries, and dispose is idempotent
// and terminal.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/termcore/termcored/internal/eventbus"
	"github.com/termcore/termcored/internal/obslog"
	"github.com/termcore/termcored/internal/ptyproc"
	"github.com/termcore/termcored/internal/sandbox"
	"github.com/termcore/termcored/internal/vterm"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateActive State = iota
	StateExited
	StateDisposed
)

// Sentinel errors surfaced to callers.
var (
	ErrNotActive   = errors.New("session: not active")
	ErrSpawnFailed = ptyproc.ErrSpawnFailed
)

// Recorder is the subset of Recorder the Session needs; satisfied by
// internal/recorder.Recorder. Kept as an interface here so that session
// does not depend on the recorder package's file/lifecycle concerns.
type Recorder interface {
	RecordOutput(data []byte)
	RecordResize(cols, rows int)
}

// Options configures a new Session.
type Options struct {
	Cols, Rows   int
	Shell        string
	Args         []string
	Cwd          string
	Env          []string
	Wrapper      ptyproc.SandboxWrapper
	Sandboxed    bool
	Isolation    sandbox.Level
	NativeShell  bool
	SetLocaleEnv bool
	StartupBanner string
	Scrollback   int
}

func (o *Options) applyDefaults() {
	if o.Cols <= 0 {
		o.Cols = 120
	}
	if o.Rows <= 0 {
		o.Rows = 40
	}
	if o.Scrollback <= 0 {
		o.Scrollback = 1000
	}
}

// Session composes a PTY, a terminal emulator, and an OSC title parser,
// publishing SessionEvents to an eventbus.Bus.
type Session struct {
	ID string

	pty   *ptyproc.Process
	emu   *vterm.Emulator
	title *vterm.TitleParser
	bus   *eventbus.Bus

	mu              sync.Mutex
	state           State
	lastTitle       *string
	lastProcessName string
	cols, rows      int

	recorder       Recorder
	sandboxCleanup func() error
	disposeOne     sync.Once

	lastOutputAt atomic.Int64 // unix nanos of the most recent output chunk
}

// New spawns a fresh Session per Options, returning ErrSpawnFailed wrapped
// errors on failure.
func New(opts Options) (*Session, error) {
	opts.applyDefaults()

	wrapper := opts.Wrapper
	var sandboxCleanup func() error
	if opts.Sandboxed && wrapper == nil {
		wrap, cleanup, err := sandbox.New(sandbox.Config{Isolation: opts.Isolation})
		if err != nil {
			return nil, SpawnFailedError(err.Error())
		}
		wrapper = wrap
		sandboxCleanup = cleanup
	}

	proc, err := ptyproc.Spawn(ptyproc.SpawnOptions{
		Shell:        opts.Shell,
		Args:         opts.Args,
		Env:          opts.Env,
		Cwd:          opts.Cwd,
		Cols:         uint16(opts.Cols),
		Rows:         uint16(opts.Rows),
		Wrapper:      wrapper,
		NativeShell:  opts.NativeShell,
		SetLocaleEnv: opts.SetLocaleEnv,
	})
	if err != nil {
		if sandboxCleanup != nil {
			_ = sandboxCleanup()
		}
		return nil, err
	}

	s := &Session{
		ID:              uuid.NewString(),
		pty:             proc,
		emu:             vterm.New(opts.Cols, opts.Rows, opts.Scrollback),
		title:           vterm.NewTitleParser(),
		bus:             eventbus.New(),
		state:           StateActive,
		lastProcessName: "shell",
		cols:            opts.Cols,
		rows:            opts.Rows,
		sandboxCleanup:  sandboxCleanup,
	}

	if opts.StartupBanner != "" {
		s.emu.Write([]byte(opts.StartupBanner))
	}

	go s.readLoop()

	return s, nil
}

// SetRecorder attaches a Recorder that receives output/resize frames
// alongside the event bus. Output produced before the call is not recorded.
func (s *Session) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

func (s *Session) readLoop() {
	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	scheduleProcessSample := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(75*time.Millisecond, s.sampleProcessName)
	}

	s.pty.ReadLoop(func(chunk []byte) {
		s.emu.Write(chunk)

		s.mu.Lock()
		rec := s.recorder
		s.mu.Unlock()
		if rec != nil {
			rec.RecordOutput(chunk)
		}

		s.lastOutputAt.Store(time.Now().UnixNano())
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindOutput, Output: chunk})

		if res := s.title.Scan(chunk); res.Found {
			s.handleTitleResult(res)
		}

		scheduleProcessSample()
	})

	exitCode := s.pty.Wait()
	s.handleExit(exitCode)
}

func (s *Session) handleTitleResult(res vterm.TitleResult) {
	s.mu.Lock()
	var newTitle *string
	if res.IsUseful {
		t := res.Title
		newTitle = &t
	}
	changed := !titlesEqual(s.lastTitle, newTitle)
	s.lastTitle = newTitle
	s.mu.Unlock()

	if changed {
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindTitleChanged, Title: newTitle})
	}
}

func titlesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Session) sampleProcessName() {
	name := s.pty.CurrentProcessName()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	changed := name != s.lastProcessName
	s.lastProcessName = name
	s.mu.Unlock()

	if changed {
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindProcessChanged, ProcessName: name})
	}
}

func (s *Session) handleExit(exitCode int) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateExited
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{Kind: eventbus.KindExit, ExitCode: exitCode})

	s.mu.Lock()
	s.state = StateDisposed
	s.mu.Unlock()

	obslog.Log.Debug("session exited", "session_id", s.ID, "exit_code", exitCode)
}

// Write sends bytes to the PTY. Fails with ErrNotActive once the session
// has exited.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return ErrNotActive
	}
	_, err := s.pty.Write(data)
	return err
}

// Resize propagates a new size to both the emulator and the PTY, and
// emits Resize on success.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return ErrNotActive
	}
	if err := s.pty.Resize(uint16(cols), uint16(rows)); err != nil {
		return err
	}
	s.emu.Resize(cols, rows)

	s.mu.Lock()
	s.cols, s.rows = cols, rows
	rec := s.recorder
	s.mu.Unlock()

	if rec != nil {
		rec.RecordResize(cols, rows)
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindResize, Cols: cols, Rows: rows})
	return nil
}

// Screenshot is the result of TakeScreenshot.
type Screenshot struct {
	Content string
	Cursor  vterm.Cursor
	Cols    int
	Rows    int
}

// TakeScreenshot answers a point-in-time read of the visible viewport.
func (s *Session) TakeScreenshot() Screenshot {
	cols, rows := s.emu.Dimensions()
	return Screenshot{
		Content: s.emu.GetViewport(),
		Cursor:  s.emu.GetCursor(),
		Cols:    cols,
		Rows:    rows,
	}
}

// GetContent returns the full buffer text (scrollback + viewport).
func (s *Session) GetContent() string {
	return s.emu.GetFullContent()
}

// IsActive reports whether the session can still accept writes.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive
}

// Dimensions returns the last applied cols, rows.
func (s *Session) Dimensions() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// OnEvent registers a subscriber with id subID to receive this session's
// events.
func (s *Session) OnEvent(subID string) *eventbus.Subscriber {
	return s.bus.Subscribe(subID)
}

// Unsubscribe releases a previously registered subscriber.
func (s *Session) Unsubscribe(subID string) {
	s.bus.Unsubscribe(subID)
}

// Dispose idempotently tears the session down: kills the PTY (triggering
// readLoop's EOF path if still active), and waits for disposal to settle.
func (s *Session) Dispose() {
	s.disposeOne.Do(func() {
		s.mu.Lock()
		wasActive := s.state == StateActive
		s.mu.Unlock()

		_ = s.pty.Kill()

		if !wasActive {
			return
		}
		// readLoop's Wait()/handleExit will run asynchronously once Kill
		// unblocks the blocked Read; give it a bounded window to settle
		// so Dispose callers observe a terminal state on return.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			s.mu.Lock()
			st := s.state
			s.mu.Unlock()
			if st == StateDisposed {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		_ = s.emu.Close()
		if s.sandboxCleanup != nil {
			_ = s.sandboxCleanup()
		}
	})
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastTitle returns the most recent useful OSC title, if any.
func (s *Session) LastTitle() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTitle
}

// LastProcessName returns the most recently observed foreground process.
func (s *Session) LastProcessName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessName
}

// Pid returns the underlying child process id.
func (s *Session) Pid() int { return s.pty.Pid() }

// SpawnFailedError formats a SpawnFailed error carrying reason, matching
// the {id, cols, rows}-on-success / SpawnFailed{reason}-on-failure
// contract of Session.new.
func SpawnFailedError(reason string) error {
	return fmt.Errorf("%w: %s", ErrSpawnFailed, reason)
}
