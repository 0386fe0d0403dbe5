package rpc

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/termcore/termcored/internal/obslog"
	"github.com/termcore/termcored/internal/session"
)

const notAttachedMsg = "No terminal attached. Enable MCP on a terminal tab first."

// initializeTimeout bounds how long a connection may go without completing
// the initialize handshake. A var, not a const, so tests can shrink it.
var initializeTimeout = 5 * time.Second

// SessionLookup is the subset of session.Manager the server needs.
type SessionLookup interface {
	Get(id string) (*session.Session, error)
}

// SessionLister optionally extends SessionLookup with enumeration, used
// by the administrative "listSessions" method.
type SessionLister interface {
	SessionLookup
	ListIDs() []string
}

// Observer receives the server's control-plane events (ClientConnected,
// ClientDisconnected, ToolCallStarted/Completed, AttachmentChanged). The
// GuiBridge implements this to rebroadcast over the GUI event stream.
type Observer interface {
	ClientConnected(id string, info *ClientInfo, runtime *RuntimeInfo)
	ClientDisconnected(id string)
	ToolCallStarted(reqID int, tool string, args map[string]any, clientID string, ts int64)
	ToolCallCompleted(reqID int, tool string, success bool, durationMs int64, clientID string, ts int64, errMsg string)
	AttachmentChanged(newID, previousID string)
}

// AuditLogger is the subset of auditlog.Logger the server needs.
type AuditLogger interface {
	LogConnect(clientID string) error
	LogDisconnect(clientID string) error
	LogToolCall(clientID, tool string, args map[string]any, success bool, durationMs int64, errMsg string) error
}

type client struct {
	id          string
	conn        net.Conn
	writeMu     sync.Mutex
	connectedAt time.Time
	clientInfo  *ClientInfo
	runtime     *RuntimeInfo
}

func (c *client) writeResponse(resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.conn.Write(data)
	return err
}

// Server is the local IPC server accepting one connection per client over
// a Unix domain socket, speaking newline-delimited JSON requests.
type Server struct {
	SocketPath string
	Sessions   SessionLookup
	Arbiter    *Arbiter
	Observer   Observer
	Audit      AuditLogger

	mu       sync.Mutex
	clients  map[string]*client
	listener net.Listener
}

// NewServer constructs a Server bound to socketPath (not yet listening).
func NewServer(socketPath string, sessions SessionLookup, arbiter *Arbiter) *Server {
	return &Server{
		SocketPath: socketPath,
		Sessions:   sessions,
		Arbiter:    arbiter,
		clients:    make(map[string]*client),
	}
}

// Serve removes any stale socket file, listens, and accepts connections
// until ctx is canceled, at which point it stops accepting, closes
// in-flight connections, and unlinks the socket path.
func (s *Server) Serve(ctx context.Context) error {
	if err := removeStaleSocket(s.SocketPath); err != nil {
		return fmt.Errorf("rpc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.SocketPath, err)
	}
	s.listener = ln

	defer func() {
		_ = os.Remove(s.SocketPath)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			g.Go(func() error {
				s.handleConn(gctx, conn)
				return nil
			})
		}
	})

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func randomClientID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func deterministicClientID(info *ClientInfo) string {
	sum := sha256.Sum256([]byte(info.Name + "@" + info.Version))
	return hex.EncodeToString(sum[:])[:32]
}

func (s *Server) registerClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) unregisterClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	c := &client{id: randomClientID(), conn: conn, connectedAt: time.Now()}
	s.registerClient(c)

	if s.Observer != nil {
		s.Observer.ClientConnected(c.id, nil, nil)
	}
	if s.Audit != nil {
		_ = s.Audit.LogConnect(c.id)
	}

	disconnectedOnce := sync.Once{}
	emitDisconnect := func() {
		disconnectedOnce.Do(func() {
			s.unregisterClient(c.id)
			if s.Observer != nil {
				s.Observer.ClientDisconnected(c.id)
			}
			if s.Audit != nil {
				_ = s.Audit.LogDisconnect(c.id)
			}
		})
	}
	defer emitDisconnect()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	// The handshake must complete within initializeTimeout or the
	// connection is dropped; the deadline is lifted once initialize
	// succeeds.
	if err := conn.SetReadDeadline(time.Now().Add(initializeTimeout)); err != nil {
		obslog.Log.Debug("rpc: set initialize deadline failed", "client_id", c.id, "error", err)
	}
	initialized := false

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = c.writeResponse(errorResponse(0, "parse error: "+err.Error()))
			continue
		}
		resp := s.dispatch(c, req)
		if err := c.writeResponse(resp); err != nil {
			obslog.Log.Debug("rpc: write response failed", "client_id", c.id, "error", err)
			return
		}
		if !initialized && req.Method == "initialize" && resp.Error == nil {
			initialized = true
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				obslog.Log.Debug("rpc: clear initialize deadline failed", "client_id", c.id, "error", err)
			}
		}
	}
}

func (s *Server) dispatch(c *client, req Request) Response {
	if req.Method == "initialize" {
		return s.handleInitialize(c, req)
	}

	if req.Method == "attach" || req.Method == "detach" {
		return s.handleAttachDetach(req)
	}
	if req.Method == "disconnectClient" {
		return s.handleDisconnectClient(req)
	}
	if req.Method == "listSessions" {
		return s.handleListSessions(req)
	}

	attached := s.Arbiter.Attached()
	if attached == "" {
		return errorResponse(req.ID, notAttachedMsg)
	}
	sess, err := s.Sessions.Get(attached)
	if err != nil {
		return errorResponse(req.ID, fmt.Sprintf("Attached session %s not found", attached))
	}

	start := time.Now()
	startTs := start.UnixMilli()
	args := paramsAsMap(req.Params)
	if s.Observer != nil {
		s.Observer.ToolCallStarted(req.ID, req.Method, args, c.id, startTs)
	}

	resp, toolErr := s.dispatchToolCall(sess, req)
	success := toolErr == ""
	durationMs := time.Since(start).Milliseconds()
	endTs := time.Now().UnixMilli()

	if s.Observer != nil {
		s.Observer.ToolCallCompleted(req.ID, req.Method, success, durationMs, c.id, endTs, toolErr)
	}
	if s.Audit != nil {
		_ = s.Audit.LogToolCall(c.id, req.Method, args, success, durationMs, toolErr)
	}

	return resp
}

func paramsAsMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (s *Server) dispatchToolCall(sess *session.Session, req Request) (Response, string) {
	switch req.Method {
	case "type":
		var p TypeParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			msg := "invalid params: " + err.Error()
			return errorResponse(req.ID, msg), msg
		}
		if err := sess.Write([]byte(p.Text)); err != nil {
			return errorResponse(req.ID, err.Error()), err.Error()
		}
		return resultResponse(req.ID, map[string]any{"ok": true}), ""

	case "sendKey":
		var p SendKeyParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			msg := "invalid params: " + err.Error()
			return errorResponse(req.ID, msg), msg
		}
		seq, err := resolveKey(p.Key)
		if err != nil {
			return errorResponse(req.ID, err.Error()), err.Error()
		}
		if err := sess.Write([]byte(seq)); err != nil {
			return errorResponse(req.ID, err.Error()), err.Error()
		}
		return resultResponse(req.ID, map[string]any{"ok": true}), ""

	case "getContent":
		return resultResponse(req.ID, sess.GetContent()), ""

	case "takeScreenshot":
		shot := sess.TakeScreenshot()
		var result ScreenshotResult
		result.Content = shot.Content
		result.Cursor.X = shot.Cursor.X
		result.Cursor.Y = shot.Cursor.Y
		result.Dimensions.Cols = shot.Cols
		result.Dimensions.Rows = shot.Rows
		return resultResponse(req.ID, result), ""

	default:
		msg := fmt.Sprintf("unknown method %q", req.Method)
		return errorResponse(req.ID, msg), msg
	}
}

func (s *Server) handleInitialize(c *client, req Request) Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, "invalid initialize params: "+err.Error())
		}
	}

	if params.ClientInfo != nil && params.ClientInfo.Name != "" {
		newID := deterministicClientID(params.ClientInfo)

		s.mu.Lock()
		delete(s.clients, c.id)
		c.id = newID
		c.clientInfo = params.ClientInfo
		c.runtime = params.Runtime
		s.clients[c.id] = c
		s.mu.Unlock()

		if s.Observer != nil {
			s.Observer.ClientConnected(c.id, c.clientInfo, c.runtime)
		}
	}

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      map[string]any{"name": ServerName, "version": ServerVersion},
	}
	return resultResponse(req.ID, result)
}

func (s *Server) handleAttachDetach(req Request) Response {
	switch req.Method {
	case "attach":
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
			return errorResponse(req.ID, "attach requires sessionId")
		}
		if _, err := s.Sessions.Get(p.SessionID); err != nil {
			return errorResponse(req.ID, fmt.Sprintf("session %s not found", p.SessionID))
		}
		s.Arbiter.Attach(p.SessionID)
		return resultResponse(req.ID, map[string]any{"ok": true})

	case "detach":
		s.Arbiter.Detach("")
		return resultResponse(req.ID, map[string]any{"ok": true})
	}
	return errorResponse(req.ID, "unreachable")
}

func (s *Server) handleListSessions(req Request) Response {
	lister, ok := s.Sessions.(SessionLister)
	if !ok {
		return resultResponse(req.ID, []string{})
	}
	return resultResponse(req.ID, lister.ListIDs())
}

func (s *Server) handleDisconnectClient(req Request) Response {
	var p struct {
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ClientID == "" {
		return errorResponse(req.ID, "disconnectClient requires clientId")
	}
	s.mu.Lock()
	target, ok := s.clients[p.ClientID]
	s.mu.Unlock()
	if !ok {
		return errorResponse(req.ID, fmt.Sprintf("client %s not found", p.ClientID))
	}
	_ = target.conn.Close()
	return resultResponse(req.ID, map[string]any{"ok": true})
}

// WireArbiterObserver wires the Arbiter's onChange callback to this server's
// Observer, so that AttachmentChanged events flow regardless of which
// caller (RPC method or SessionManager auto-detach) triggered them.
func (s *Server) WireArbiterObserver() {
	s.Arbiter.OnChange(func(newID, previousID string) {
		if s.Observer != nil {
			s.Observer.AttachmentChanged(newID, previousID)
		}
	})
}
