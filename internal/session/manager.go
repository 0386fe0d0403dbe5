package session

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Get/Close for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// Manager owns all sessions, providing create/close/lookup. It is
// grounded on the keyed-map pattern in
// _examples/houx15-agenterm/internal/pty/manager.go, adapted to emit
// OnClose callbacks instead of direct websocket fan-out.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string

	// onClose, when set, is invoked synchronously before the session is
	// disposed — used to drive the attachment arbiter's auto-detach rule
	// so a subscriber watching both attachment and lifecycle events always
	// observes detachment before the session's exit.
	onClose func(id string)
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// OnClose registers the callback invoked whenever a session is closed.
func (m *Manager) OnClose(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// CreateResult is returned by CreateSession on success.
type CreateResult struct {
	ID         string
	Cols, Rows int
}

// CreateSession spawns a new Session and registers it, returning a fresh
// id immediately usable for all other operations.
func (m *Manager) CreateSession(opts Options) (CreateResult, error) {
	sess, err := New(opts)
	if err != nil {
		return CreateResult{}, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.order = append(m.order, sess.ID)
	m.mu.Unlock()

	cols, rows := sess.Dimensions()
	return CreateResult{ID: sess.ID, Cols: cols, Rows: rows}, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Close disposes the session with id, if present, and is idempotent.
// Returns true if a session was found (regardless of whether it was
// already disposed).
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.removeFromOrderLocked(id)
	}
	onClose := m.onClose
	m.mu.Unlock()

	if !ok {
		return false
	}
	// Detach before disposing: Dispose synchronously publishes the exit
	// event, and a subscriber watching both attachment and lifecycle must
	// never observe the exit before it observes the detach.
	if onClose != nil {
		onClose(id)
	}
	sess.Dispose()
	return true
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// ListIDs returns session ids in creation (insertion) order.
func (m *Manager) ListIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Dispose closes every session the manager owns.
func (m *Manager) Dispose() {
	for _, id := range m.ListIDs() {
		m.Close(id)
	}
}
