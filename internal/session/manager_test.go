package session

import (
	"testing"

	"github.com/termcore/termcored/internal/eventbus"
)

func newManagerTestOpts() Options {
	return Options{Shell: "/bin/sh", Cols: 80, Rows: 24}
}

func TestCreateSessionAssignsUniqueIDs(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	r1, err := m.CreateSession(newManagerTestOpts())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	r2, err := m.CreateSession(newManagerTestOpts())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if r1.ID == r2.ID {
		t.Fatal("expected distinct session ids")
	}

	if _, err := m.Get(r1.ID); err != nil {
		t.Fatalf("Get(r1): %v", err)
	}
	if _, err := m.Get(r2.ID); err != nil {
		t.Fatalf("Get(r2): %v", err)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	m := NewManager()
	defer m.Dispose()
	if _, err := m.Get("does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	r, err := m.CreateSession(newManagerTestOpts())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !m.Close(r.ID) {
		t.Fatal("expected first Close to report found")
	}
	if m.Close(r.ID) {
		t.Fatal("expected second Close on an already-removed id to report not found")
	}
	if _, err := m.Get(r.ID); err != ErrNotFound {
		t.Fatalf("expected session to be gone after Close, got err=%v", err)
	}
}

func TestListIDsPreservesInsertionOrder(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := m.CreateSession(newManagerTestOpts())
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, r.ID)
	}

	got := m.ListIDs()
	if len(got) != len(ids) {
		t.Fatalf("expected %d ids, got %d", len(ids), len(got))
	}
	for i, id := range ids {
		if got[i] != id {
			t.Fatalf("expected insertion order %v, got %v", ids, got)
		}
	}
}

func TestOnCloseCallbackFiresOnClose(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	var closedID string
	m.OnClose(func(id string) { closedID = id })

	r, err := m.CreateSession(newManagerTestOpts())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	m.Close(r.ID)

	if closedID != r.ID {
		t.Fatalf("expected onClose callback for %s, got %s", r.ID, closedID)
	}
}

func TestOnCloseRunsBeforeExitIsObservedOnBus(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	r, err := m.CreateSession(newManagerTestOpts())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := m.Get(r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	sub := sess.OnEvent("watcher")

	var detachedBeforeExit bool
	m.OnClose(func(id string) {
		// Exit is published when the session leaves StateActive, so a
		// still-active session here means Exit has not been published yet.
		detachedBeforeExit = sess.State() == StateActive
	})

	m.Close(r.ID)

	ev, ok := <-sub.Events()
	if !ok || ev.Kind != eventbus.KindExit {
		t.Fatalf("expected Exit event, got ev=%+v ok=%v", ev, ok)
	}
	if !detachedBeforeExit {
		t.Fatal("expected onClose (detach) to run before the session's Exit event is observed")
	}
}

func TestDisposeClosesAllSessions(t *testing.T) {
	m := NewManager()
	var ids []string
	for i := 0; i < 3; i++ {
		r, err := m.CreateSession(newManagerTestOpts())
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, r.ID)
	}
	m.Dispose()
	for _, id := range ids {
		if _, err := m.Get(id); err != ErrNotFound {
			t.Fatalf("expected %s to be gone after Dispose", id)
		}
	}
}
