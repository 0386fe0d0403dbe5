package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderAlwaysModePromotesFile(t *testing.T) {
	dir := t.TempDir()
	r := New(Always, "test-id-1", dir, Limits{})
	if err := r.Start(80, 24, map[string]string{"TERM": "xterm-256color"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.RecordOutput([]byte("hello"))
	r.RecordResize(100, 40)

	code := 0
	meta, err := r.Finalize(&code, StopExplicit)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if meta.BytesWritten == 0 {
		t.Fatal("expected non-zero bytes written")
	}

	finalPath := r.FinalPath()
	if finalPath == "" {
		t.Fatal("expected a final path after promotion")
	}
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected final file to exist: %v", err)
	}
	if _, err := os.Stat(finalPath + ".meta.json"); err != nil {
		t.Fatalf("expected sidecar metadata to exist: %v", err)
	}

	f, err := os.Open(finalPath)
	if err != nil {
		t.Fatalf("open final: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected a header line")
	}
	var hdr Header
	if err := json.Unmarshal(scanner.Bytes(), &hdr); err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if hdr.Version != 2 || hdr.Width != 80 || hdr.Height != 24 {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 frame lines, got %d", lines)
	}
}

func TestRecorderOffModeDropsTempFile(t *testing.T) {
	dir := t.TempDir()
	r := New(Off, "test-id-2", dir, Limits{})
	if err := r.Start(80, 24, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.RecordOutput([]byte("x"))

	code := 0
	if _, err := r.Finalize(&code, StopExplicit); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if r.FinalPath() != "" {
		t.Fatal("expected no final path for Off mode")
	}
	if _, err := os.Stat(tempRecordingPath("test-id-2")); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be removed")
	}
}

func TestRecorderOnFailureKeepsOnlyNonZeroExit(t *testing.T) {
	dir := t.TempDir()

	rOK := New(OnFailure, "ok-1", dir, Limits{})
	rOK.Start(80, 24, nil)
	rOK.RecordOutput([]byte("ok"))
	zero := 0
	rOK.Finalize(&zero, StopExplicit)
	if rOK.FinalPath() != "" {
		t.Fatal("expected OnFailure + exit 0 to drop the recording")
	}

	rFail := New(OnFailure, "fail-1", dir, Limits{})
	rFail.Start(80, 24, nil)
	rFail.RecordOutput([]byte("boom"))
	one := 1
	rFail.Finalize(&one, StopExplicit)
	if rFail.FinalPath() == "" {
		t.Fatal("expected OnFailure + non-zero exit to keep the recording")
	}
}

func TestDoubleFinalizeFails(t *testing.T) {
	dir := t.TempDir()
	r := New(Always, "double-1", dir, Limits{})
	r.Start(80, 24, nil)
	code := 0
	if _, err := r.Finalize(&code, StopExplicit); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if _, err := r.Finalize(&code, StopExplicit); err != ErrAlreadyFinalized {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestManagerListReturnsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	for i := 0; i < 3; i++ {
		r := m.CreateRecorder(Always, Limits{})
		r.Start(80, 24, nil)
		code := 0
		if _, err := r.Finalize(&code, StopExplicit); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}

	entries, err := m.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].CreatedAt < entries[i+1].CreatedAt {
			t.Fatal("expected newest-first ordering")
		}
	}
}

func TestManagerDeleteRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	r := m.CreateRecorder(Always, Limits{})
	r.Start(80, 24, nil)
	code := 0
	r.Finalize(&code, StopExplicit)

	final := r.FinalPath()
	name := filepath.Base(final)

	if err := m.Delete(name); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Fatal("expected .cast file removed")
	}
	if _, err := os.Stat(final + ".meta.json"); !os.IsNotExist(err) {
		t.Fatal("expected .meta.json removed")
	}
}

func TestMaxDurationForcesFinalize(t *testing.T) {
	dir := t.TempDir()
	r := New(Always, "maxdur-1", dir, Limits{MaxDuration: 30 * time.Millisecond})
	if err := r.Start(80, 24, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !r.Finalized() {
		time.Sleep(5 * time.Millisecond)
	}
	if !r.Finalized() {
		t.Fatal("expected MaxDuration to force finalization")
	}
}

func TestInactivityTimeoutForcesFinalize(t *testing.T) {
	dir := t.TempDir()
	r := New(Always, "inactive-1", dir, Limits{InactivityTimeout: 30 * time.Millisecond})
	if err := r.Start(80, 24, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !r.Finalized() {
		time.Sleep(5 * time.Millisecond)
	}
	if !r.Finalized() {
		t.Fatal("expected InactivityTimeout to force finalization")
	}
}

func TestInactivityTimeoutResetsOnActivity(t *testing.T) {
	dir := t.TempDir()
	r := New(Always, "inactive-2", dir, Limits{InactivityTimeout: 60 * time.Millisecond})
	if err := r.Start(80, 24, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stop := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(stop) {
		r.RecordOutput([]byte("x"))
		time.Sleep(20 * time.Millisecond)
	}
	if r.Finalized() {
		t.Fatal("expected ongoing activity to postpone the inactivity finalize")
	}

	code := 0
	if _, err := r.Finalize(&code, StopExplicit); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestAppendFrameDegradesAndNotifiesOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	r := New(Always, "degrade-1", dir, Limits{})
	if err := r.Start(80, 24, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var gotErr error
	done := make(chan struct{})
	r.OnDegrade = func(err error) {
		gotErr = err
		close(done)
	}

	r.f.Close() // force the next frame write to fail
	r.RecordOutput([]byte("x"))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected OnDegrade to be called")
	}
	if gotErr == nil {
		t.Fatal("expected a non-nil error passed to OnDegrade")
	}
	if !r.Degraded() {
		t.Fatal("expected recorder to be marked degraded")
	}
}

func TestRecoverStaleRemovesUnownedTempFiles(t *testing.T) {
	dir := t.TempDir()
	// RecoverStale scans os.TempDir(), which honors TMPDIR.
	t.Setenv("TMPDIR", dir)
	orphan := tempRecordingPathIn(dir, "orphan-1")
	live := tempRecordingPathIn(dir, "live-1")
	for _, p := range []string{orphan, live} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o600); err != nil {
			t.Fatalf("seed temp file: %v", err)
		}
	}

	removed, err := RecoverStale(map[string]bool{"live-1": true})
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 stale file removed, got %d", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("expected unowned temp recording to be removed")
	}
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("expected live recording's temp file to be kept: %v", err)
	}
}

func tempRecordingPathIn(dir, id string) string {
	return filepath.Join(dir, "terminal-mcp-recording-"+id+".cast")
}
