// Package guibridge exposes the EventBus and attachment control-plane
// events to a local GUI front-end over a WebSocket. It is grounded on the
// per-client broadcast loop of
// _examples/houx15-agenterm/internal/hub/hub.go (a registry of live
// connections, a broadcast fan-out, explicit register/unregister),
// rebuilt on github.com/coder/websocket instead of nhooyr.io/websocket
// and addressed at one process-wide event stream instead of per-window
// routing.
package guibridge

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/termcore/termcored/internal/eventbus"
	"github.com/termcore/termcored/internal/obslog"
	"github.com/termcore/termcored/internal/recorder"
	"github.com/termcore/termcored/internal/rpc"
	"github.com/termcore/termcored/internal/session"
)

// Message is an egress frame: a type discriminator plus a flat payload
// ("output", "resize", "session-closed", "title-changed",
// "process-changed", "recording-changed", and the mcp:* broadcasts).
type Message map[string]any

// SessionLookup is the subset of session.Manager the bridge needs to
// route inbound "input" messages to a session.
type SessionLookup interface {
	Get(id string) (*session.Session, error)
}

// SessionCreator is the subset of session.Manager the bridge needs to
// spawn and retire sessions from GUI "create"/"close" ingress messages.
// Session creation has no dedicated method in the IPC tool protocol, which
// only names tool methods for an already-attached session, so the GUI's
// own WebSocket channel is the natural place for it: it is already the
// transport the GUI uses to send "input".
type SessionCreator interface {
	CreateSession(opts session.Options) (session.CreateResult, error)
	Close(id string) bool
}

// RecorderFactory is the subset of recorder.Manager the bridge needs to
// attach a fresh Recorder to a session spawned via "create".
type RecorderFactory interface {
	CreateRecorder(mode recorder.Mode, limits recorder.Limits) *recorder.Recorder
}

// Bridge fans eventbus.Events and rpc.Observer callbacks out to every
// connected GUI WebSocket client.
type Bridge struct {
	Sessions SessionLookup
	Creator  SessionCreator // optional; nil disables "create"/"close" ingress

	Recorders    RecorderFactory // optional; nil disables recording of created sessions
	RecordMode   recorder.Mode
	RecordLimits recorder.Limits

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan Message
}

// New constructs an empty Bridge. Call Watch for every session that
// should be observed over the GUI stream.
func New(sessions SessionLookup) *Bridge {
	return &Bridge{Sessions: sessions, clients: make(map[*wsClient]struct{})}
}

// Handler returns an http.Handler that upgrades to a WebSocket and keeps
// a client registered for the connection's lifetime.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			obslog.Log.Warn("guibridge: accept failed", "error", err)
			return
		}

		c := &wsClient{conn: conn, send: make(chan Message, 256)}
		b.register(c)
		defer b.unregister(c)

		ctx := r.Context()
		go b.writeLoop(ctx, c)
		b.readLoop(ctx, c)
	})
}

func (b *Bridge) register(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *Bridge) unregister(c *wsClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	close(c.send)
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bridge) writeLoop(ctx context.Context, c *wsClient) {
	for msg := range c.send {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(wctx, c.conn, msg)
		cancel()
		if err != nil {
			return
		}
	}
}

// ingressMessage is the shape accepted from the GUI over the same
// WebSocket the bridge uses for egress: "input" (keystrokes), "resize",
// "create" (spawn a new session), and "close" (retire one).
type ingressMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	Shell     string `json:"shell"`
	Cwd       string `json:"cwd"`
}

func (b *Bridge) readLoop(ctx context.Context, c *wsClient) {
	for {
		var msg ingressMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return
		}
		switch msg.Type {
		case "input":
			b.handleInput(msg)
		case "resize":
			b.handleResize(msg)
		case "create":
			b.handleCreate(msg)
		case "close":
			b.handleClose(msg)
		}
	}
}

func (b *Bridge) handleInput(msg ingressMessage) {
	if b.Sessions == nil {
		return
	}
	sess, err := b.Sessions.Get(msg.SessionID)
	if err != nil {
		return
	}
	_ = sess.Write([]byte(msg.Data))
}

func (b *Bridge) handleResize(msg ingressMessage) {
	if b.Sessions == nil || msg.Cols <= 0 || msg.Rows <= 0 {
		return
	}
	sess, err := b.Sessions.Get(msg.SessionID)
	if err != nil {
		return
	}
	_ = sess.Resize(msg.Cols, msg.Rows)
}

func (b *Bridge) handleCreate(msg ingressMessage) {
	if b.Creator == nil {
		return
	}
	result, err := b.Creator.CreateSession(session.Options{
		Cols:  msg.Cols,
		Rows:  msg.Rows,
		Shell: msg.Shell,
		Cwd:   msg.Cwd,
	})
	if err != nil {
		b.Broadcast(Message{"type": "session-create-failed", "error": err.Error()})
		return
	}

	b.Broadcast(Message{
		"type":      "session-created",
		"sessionId": result.ID,
		"cols":      result.Cols,
		"rows":      result.Rows,
	})

	if b.Sessions == nil {
		return
	}
	sess, err := b.Sessions.Get(result.ID)
	if err != nil {
		return
	}
	if b.Recorders != nil && b.RecordMode != recorder.Off {
		rec := b.Recorders.CreateRecorder(b.RecordMode, b.RecordLimits)
		rec.OnDegrade = func(err error) {
			b.Broadcast(Message{
				"type":      "recording-changed",
				"sessionId": result.ID,
				"error":     err.Error(),
			})
		}
		if err := rec.Start(result.Cols, result.Rows, nil); err != nil {
			obslog.Log.Warn("guibridge: start recorder failed", "session_id", result.ID, "error", err)
		} else {
			sess.SetRecorder(rec)
		}
	}
	b.Watch(sess)
}

func (b *Bridge) handleClose(msg ingressMessage) {
	if b.Creator == nil {
		return
	}
	b.Creator.Close(msg.SessionID)
}

// Broadcast sends msg to every connected client's queue, dropping it for
// any client whose queue is full rather than blocking the publisher.
func (b *Bridge) Broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			obslog.Log.Debug("guibridge: dropping message for slow client")
		}
	}
}

// Watch subscribes to sess's event bus and rebroadcasts every event as an
// egress message, until the session emits Exit.
func (b *Bridge) Watch(sess *session.Session) {
	sub := sess.OnEvent("guibridge:" + sess.ID)
	go func() {
		for ev := range sub.Events() {
			b.Broadcast(eventToMessage(sess.ID, ev))
		}
	}()
}

func eventToMessage(sessionID string, ev eventbus.Event) Message {
	switch ev.Kind {
	case eventbus.KindOutput:
		return Message{
			"type":      "output",
			"sessionId": sessionID,
			"data":      base64.StdEncoding.EncodeToString(ev.Output),
		}
	case eventbus.KindResize:
		return Message{
			"type":      "resize",
			"sessionId": sessionID,
			"cols":      ev.Cols,
			"rows":      ev.Rows,
		}
	case eventbus.KindExit:
		return Message{
			"type":      "session-closed",
			"sessionId": sessionID,
			"exitCode":  ev.ExitCode,
		}
	case eventbus.KindTitleChanged:
		return Message{
			"type":      "title-changed",
			"sessionId": sessionID,
			"title":     ev.Title,
		}
	case eventbus.KindProcessChanged:
		return Message{
			"type":      "process-changed",
			"sessionId": sessionID,
			"process":   ev.ProcessName,
		}
	default:
		return Message{"type": "unknown", "sessionId": sessionID}
	}
}

// The following methods implement rpc.Observer, rebroadcasting the
// control-plane events as mcp:* messages.
var _ rpc.Observer = (*Bridge)(nil)

func (b *Bridge) ClientConnected(id string, info *rpc.ClientInfo, runtime *rpc.RuntimeInfo) {
	b.Broadcast(Message{"type": "mcp:clientConnected", "clientId": id, "clientInfo": info, "runtime": runtime})
}

func (b *Bridge) ClientDisconnected(id string) {
	b.Broadcast(Message{"type": "mcp:clientDisconnected", "clientId": id})
}

func (b *Bridge) ToolCallStarted(reqID int, tool string, args map[string]any, clientID string, ts int64) {
	b.Broadcast(Message{
		"type": "mcp:toolCallStarted", "id": reqID, "tool": tool, "args": args,
		"clientId": clientID, "ts": ts,
	})
}

func (b *Bridge) ToolCallCompleted(reqID int, tool string, success bool, durationMs int64, clientID string, ts int64, errMsg string) {
	msg := Message{
		"type": "mcp:toolCallCompleted", "id": reqID, "tool": tool, "success": success,
		"durationMs": durationMs, "clientId": clientID, "ts": ts,
	}
	if errMsg != "" {
		msg["error"] = errMsg
	}
	b.Broadcast(msg)
}

func (b *Bridge) AttachmentChanged(newID, previousID string) {
	var newPtr, prevPtr any
	if newID != "" {
		newPtr = newID
	}
	if previousID != "" {
		prevPtr = previousID
	}
	b.Broadcast(Message{
		"type": "mcp:attachmentChanged", "attachedSessionId": newPtr, "previousSessionId": prevPtr,
	})
}

// StatusChanged broadcasts the mcp:statusChanged message.
func (b *Bridge) StatusChanged(status string) {
	b.Broadcast(Message{"type": "mcp:statusChanged", "status": status})
}
