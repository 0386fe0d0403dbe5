package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/termcore/termcored/internal/obslog"
)

// Entry describes one listed recording.
type Entry struct {
	Filename  string  `json:"filename"`
	Path      string  `json:"path"`
	Size      int64   `json:"size"`
	SizeHuman string  `json:"sizeHuman"`
	CreatedAt int64   `json:"createdAt"`
	Duration  *int64  `json:"durationMs,omitempty"`
}

// Manager creates Recorders and enumerates/retires finished recordings in
// outDir. A fsnotify watcher keeps a directory-listing cache warm so
// repeated CLI/RPC listing calls avoid re-stat'ing the whole directory.
type Manager struct {
	outDir string

	mu      sync.Mutex
	cache   []Entry
	watcher *fsnotify.Watcher
}

// NewManager constructs a Manager rooted at outDir, creating it if
// necessary, and starts a best-effort fsnotify watch to invalidate the
// listing cache on changes.
func NewManager(outDir string) (*Manager, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure output dir: %w", err)
	}

	m := &Manager{outDir: outDir}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		obslog.Log.Warn("recorder: fsnotify unavailable, listing cache disabled", "error", err)
		return m, nil
	}
	if err := w.Add(outDir); err != nil {
		obslog.Log.Warn("recorder: fsnotify add failed", "error", err)
		w.Close()
		return m, nil
	}
	m.watcher = w
	go m.watchLoop()
	return m, nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case _, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.mu.Lock()
			m.cache = nil
			m.mu.Unlock()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			obslog.Log.Warn("recorder: fsnotify error", "error", err)
		}
	}
}

// CreateRecorder returns a fresh Recorder scoped to this manager's output
// directory, with a new recording id.
func (m *Manager) CreateRecorder(mode Mode, limits Limits) *Recorder {
	return New(mode, uuid.NewString(), m.outDir, limits)
}

// List enumerates recordings newest-first, truncated to limit (0 means
// unbounded).
func (m *Manager) List(limit int) ([]Entry, error) {
	m.mu.Lock()
	cached := m.cache
	m.mu.Unlock()
	if cached == nil {
		entries, err := m.scan()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cache = entries
		m.mu.Unlock()
		cached = entries
	}

	out := cached
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Manager) scan() ([]Entry, error) {
	files, err := os.ReadDir(m.outDir)
	if err != nil {
		return nil, fmt.Errorf("recorder: list %s: %w", m.outDir, err)
	}

	var entries []Entry
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, ".cast") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}

		entry := Entry{
			Filename:  name,
			Path:      filepath.Join(m.outDir, name),
			Size:      info.Size(),
			SizeHuman: humanize.Bytes(uint64(info.Size())),
			CreatedAt: info.ModTime().Unix(),
		}

		if meta, err := readSidecarMeta(entry.Path + ".meta.json"); err == nil {
			d := meta.DurationMs
			entry.Duration = &d
			entry.CreatedAt = meta.StartTime
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt > entries[j].CreatedAt })
	return entries, nil
}

func readSidecarMeta(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Delete removes both the .cast file and its .meta.json sidecar.
func (m *Manager) Delete(filename string) error {
	path := filepath.Join(m.outDir, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recorder: delete %s: %w", path, err)
	}
	_ = os.Remove(path + ".meta.json")

	m.mu.Lock()
	m.cache = nil
	m.mu.Unlock()
	return nil
}

// RecoverStale scans the OS temp directory for stale
// terminal-mcp-recording-*.cast files not owned by a running recorder and
// unlinks them, returning the count removed. liveIDs lists recording ids
// currently in use.
func RecoverStale(liveIDs map[string]bool) (int, error) {
	dir := os.TempDir()
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("recorder: scan temp dir: %w", err)
	}

	const prefix = "terminal-mcp-recording-"
	const suffix = ".cast"

	removed := 0
	for _, f := range files {
		name := f.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if liveIDs[id] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Close stops the fsnotify watcher, if any.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
