// Package recorder implements asciicast-v2 session recording: framed
// writes to a temp file, atomic finalize-and-promote, retention listing,
// and crash recovery. The temp→final atomic-rename pattern writes to a
// temp path under the OS temp directory, then os.Rename, falling back to
// copy+unlink when the rename fails (e.g. across filesystems).
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Mode selects which sessions get recorded and under what condition.
type Mode string

const (
	Always    Mode = "always"
	OnFailure Mode = "on-failure"
	Off       Mode = "off"
)

// StopReason enumerates why a recording finalized.
type StopReason string

const (
	StopExplicit    StopReason = "explicit"
	StopInactivity  StopReason = "inactivity"
	StopMaxDuration StopReason = "max_duration"
)

// ErrAlreadyFinalized is returned by Finalize when called twice.
var ErrAlreadyFinalized = errors.New("recorder: already finalized")

// Limits bounds a recording's size and lifetime. IdleTimeLimit caps how much
// wall-clock idle gap is folded into asciicast frame timestamps; MaxDuration
// and InactivityTimeout force finalization once crossed, independent of
// session lifetime.
type Limits struct {
	IdleTimeLimit     time.Duration
	MaxDuration       time.Duration
	InactivityTimeout time.Duration
}

// Header is asciicast v2's line-1 JSON object.
type Header struct {
	Version   int            `json:"version"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Timestamp int64          `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Metadata is the sidecar `.meta.json` written alongside a finalized
// recording.
type Metadata struct {
	ExitCode     *int       `json:"exitCode"`
	DurationMs   int64      `json:"durationMs"`
	StartTime    int64      `json:"startTime"`
	EndTime      int64      `json:"endTime"`
	BytesWritten int64      `json:"bytesWritten"`
	StopReason   StopReason `json:"stopReason"`
}

// Recorder writes one asciicast-v2 recording, from start() through
// finalize().
type Recorder struct {
	mode   Mode
	id     string
	outDir string

	limits Limits

	mu           sync.Mutex
	tempPath     string
	finalPath    string
	f            *os.File
	startTime    time.Time
	lastEventAt  time.Time
	idleSkipped  time.Duration // idle time removed from frame timestamps so far
	bytesWritten int64
	finalized    bool
	degraded     bool

	maxDurationTimer *time.Timer
	inactivityTimer  *time.Timer

	// OnDegrade, if set, is invoked (on its own goroutine, without the
	// recorder's lock held) the first time a write failure or timeout
	// forces the recorder into the degraded state.
	OnDegrade func(err error)
}

func tempRecordingPath(id string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("terminal-mcp-recording-%s.cast", id))
}

// New constructs a Recorder for the given mode, id, and output directory.
// Call Start to open the temp file and write the header.
func New(mode Mode, id, outDir string, limits Limits) *Recorder {
	return &Recorder{
		mode:   mode,
		id:     id,
		outDir: outDir,
		limits: limits,
	}
}

// Start opens the temp file and writes the asciicast header.
func (r *Recorder) Start(cols, rows int, env map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tempPath = tempRecordingPath(r.id)
	f, err := os.OpenFile(r.tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("recorder: open temp file: %w", err)
	}
	r.f = f
	r.startTime = time.Now()
	r.lastEventAt = r.startTime

	hdr := Header{Version: 2, Width: cols, Height: rows, Timestamp: r.startTime.Unix(), Env: env}
	data, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("recorder: marshal header: %w", err)
	}
	n, err := fmt.Fprintf(r.f, "%s\n", data)
	if err != nil {
		return fmt.Errorf("recorder: write header: %w", err)
	}
	r.bytesWritten += int64(n)

	if r.limits.MaxDuration > 0 {
		r.maxDurationTimer = time.AfterFunc(r.limits.MaxDuration, func() {
			_, _ = r.Finalize(nil, StopMaxDuration)
		})
	}
	if r.limits.InactivityTimeout > 0 {
		r.inactivityTimer = time.AfterFunc(r.limits.InactivityTimeout, func() {
			_, _ = r.Finalize(nil, StopInactivity)
		})
	}
	return nil
}

func (r *Recorder) frameTime(now time.Time) float64 {
	if r.limits.IdleTimeLimit > 0 {
		gap := now.Sub(r.lastEventAt)
		if gap > r.limits.IdleTimeLimit {
			r.idleSkipped += gap - r.limits.IdleTimeLimit
		}
	}
	r.lastEventAt = now
	return (now.Sub(r.startTime) - r.idleSkipped).Seconds()
}

// RecordOutput appends an "o" frame. No-op after finalization.
func (r *Recorder) RecordOutput(data []byte) {
	r.appendFrame("o", string(data))
}

// RecordResize appends an "r" frame with "<cols>x<rows>" data.
func (r *Recorder) RecordResize(cols, rows int) {
	r.appendFrame("r", fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) appendFrame(kind, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized || r.degraded || r.f == nil {
		return
	}

	t := r.frameTime(time.Now())
	frame, err := json.Marshal([]interface{}{t, kind, data})
	if err != nil {
		return
	}

	if r.inactivityTimer != nil {
		r.inactivityTimer.Reset(r.limits.InactivityTimeout)
	}

	done := make(chan error, 1)
	go func() {
		_, err := fmt.Fprintf(r.f, "%s\n", frame)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			r.bytesWritten += int64(len(frame)) + 1
		} else {
			r.degrade(err)
		}
	case <-time.After(2 * time.Second):
		r.degrade(errors.New("recorder: write timed out"))
	}
}

// degrade marks the recorder degraded and, on the first transition, notifies
// OnDegrade off the caller's goroutine. Must be called with r.mu held.
func (r *Recorder) degrade(err error) {
	if r.degraded {
		return
	}
	r.degraded = true
	if r.OnDegrade != nil {
		go r.OnDegrade(err)
	}
}

// Finalized reports whether the recording has been finalized, whether by
// an explicit Finalize call or by the MaxDuration/InactivityTimeout
// enforcement timers.
func (r *Recorder) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// Degraded reports whether a write failure or timeout forced the recorder
// out of normal operation. Degraded recorders silently drop further frames.
func (r *Recorder) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Finalize closes the temp file and, depending on mode and exitCode,
// atomically promotes it to outDir or removes it. exitCode is nil when
// unknown.
func (r *Recorder) Finalize(exitCode *int, reason StopReason) (*Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return nil, ErrAlreadyFinalized
	}
	r.finalized = true

	if r.maxDurationTimer != nil {
		r.maxDurationTimer.Stop()
	}
	if r.inactivityTimer != nil {
		r.inactivityTimer.Stop()
	}

	if r.f != nil {
		_ = r.f.Close()
	}

	meta := &Metadata{
		ExitCode:     exitCode,
		DurationMs:   time.Since(r.startTime).Milliseconds(),
		StartTime:    r.startTime.Unix(),
		EndTime:      time.Now().Unix(),
		BytesWritten: r.bytesWritten,
		StopReason:   reason,
	}

	shouldKeep := r.mode == Always || (r.mode == OnFailure && exitCode != nil && *exitCode != 0)
	if !shouldKeep {
		_ = os.Remove(r.tempPath)
		return meta, nil
	}

	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return meta, fmt.Errorf("recorder: ensure output dir: %w", err)
	}

	finalName := fmt.Sprintf("terminal-%d-%s.cast", time.Now().UnixMilli(), r.id)
	r.finalPath = filepath.Join(r.outDir, finalName)

	if err := promote(r.tempPath, r.finalPath); err != nil {
		return meta, fmt.Errorf("recorder: promote recording: %w", err)
	}

	metaPath := r.finalPath + ".meta.json"
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return meta, fmt.Errorf("recorder: marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return meta, fmt.Errorf("recorder: write sidecar metadata: %w", err)
	}

	return meta, nil
}

// promote renames src to dst, falling back to copy+unlink when the rename
// fails (such as EXDEV across devices), matching the update-binary-replace
// pattern.
func promote(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// FinalPath returns the promoted file path, valid only after a successful
// Finalize that kept the recording.
func (r *Recorder) FinalPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalPath
}
