package guibridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/termcore/termcored/internal/session"
)

func TestCreateIngressSpawnsAndWatchesSession(t *testing.T) {
	mgr := session.NewManager()
	defer mgr.Dispose()

	b := New(mgr)
	b.Creator = mgr
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, map[string]any{
		"type": "create", "shell": "/bin/sh", "cols": 80, "rows": 24,
	}); err != nil {
		t.Fatalf("write create: %v", err)
	}

	var created map[string]any
	if err := wsjson.Read(ctx, conn, &created); err != nil {
		t.Fatalf("read session-created: %v", err)
	}
	if created["type"] != "session-created" {
		t.Fatalf("expected session-created, got %+v", created)
	}
	sessionID, _ := created["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected non-empty sessionId in %+v", created)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{
		"type": "input", "sessionId": sessionID, "data": "echo from-bridge\n",
	}); err != nil {
		t.Fatalf("write input: %v", err)
	}

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		var msg map[string]any
		readCtx, readCancel := context.WithTimeout(ctx, 1*time.Second)
		err := wsjson.Read(readCtx, conn, &msg)
		readCancel()
		if err != nil {
			continue
		}
		if msg["type"] == "output" {
			return
		}
	}
	t.Fatal("timed out waiting for output event from created session")
}

type noopSessions struct{}

func (noopSessions) Get(id string) (*session.Session, error) {
	return nil, session.ErrNotFound
}

func TestBroadcastReachesConnectedClient(t *testing.T) {
	b := New(noopSessions{})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register the connection before
	// broadcasting, since Accept/register happens in the handler
	// goroutine.
	time.Sleep(100 * time.Millisecond)

	b.AttachmentChanged("sess-1", "")

	var msg map[string]any
	readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer readCancel()
	if err := wsjson.Read(readCtx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "mcp:attachmentChanged" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg["attachedSessionId"] != "sess-1" {
		t.Fatalf("expected attachedSessionId sess-1, got %+v", msg)
	}
}

func TestToolCallStartedCompletedOrdering(t *testing.T) {
	b := New(noopSessions{})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	time.Sleep(100 * time.Millisecond)

	b.ToolCallStarted(1, "getContent", nil, "client-1", 0)
	b.ToolCallCompleted(1, "getContent", true, 5, "client-1", 0, "")

	var first, second map[string]any
	readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer readCancel()
	if err := wsjson.Read(readCtx, conn, &first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if err := wsjson.Read(readCtx, conn, &second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if first["type"] != "mcp:toolCallStarted" || second["type"] != "mcp:toolCallCompleted" {
		t.Fatalf("expected started-then-completed ordering, got %v then %v", first["type"], second["type"])
	}
}
