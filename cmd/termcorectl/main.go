// Command termcorectl is a thin, interactive debug client for the daemon's
// local IPC socket. It puts the caller's real terminal into raw mode,
// attaches to a running session, and pipes keystrokes through "type"
// while polling "takeScreenshot" to render the remote screen.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/termcore/termcored/internal/config"
)

func main() {
	var (
		configFlag string
		sessionID  string
		listFlag   bool
	)
	flag.StringVar(&configFlag, "config", "", "path to config.yaml")
	flag.StringVar(&sessionID, "session", "", "session id to attach to (required unless -list)")
	flag.BoolVar(&listFlag, "list", false, "list attachable sessions and exit")
	flag.Parse()

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	c, err := dial(cfg.SocketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer c.conn.Close()

	if _, err := c.call("initialize", map[string]any{
		"clientInfo": map[string]any{"name": "termcorectl", "version": "0.1.0"},
	}); err != nil {
		fmt.Fprintln(os.Stderr, "initialize:", err)
		os.Exit(1)
	}

	if listFlag {
		result, err := c.call("listSessions", nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "listSessions:", err)
			os.Exit(1)
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "-session is required (use -list to discover ids)")
		os.Exit(1)
	}

	if _, err := c.call("attach", map[string]any{"sessionId": sessionID}); err != nil {
		fmt.Fprintln(os.Stderr, "attach:", err)
		os.Exit(1)
	}
	defer c.call("detach", map[string]any{"sessionId": sessionID})

	if err := runInteractive(c); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInteractive(c *client) error {
	fd := int(os.Stdin.Fd())

	var oldState *term.State
	if term.IsTerminal(fd) {
		var err error
		oldState, err = term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)

	stdin := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				stdin <- chunk
			}
			if err != nil {
				close(stdin)
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-stdin:
			if !ok {
				return nil
			}
			if _, err := c.call("type", map[string]any{"text": string(chunk)}); err != nil {
				return fmt.Errorf("type: %w", err)
			}
		case <-winchCh:
			// Remote dimensions are owned by the attached session's
			// creator; this debug client only observes its screen.
		case <-ticker.C:
			if err := renderScreenshot(c); err != nil {
				return err
			}
		}
	}
}

func renderScreenshot(c *client) error {
	result, err := c.call("takeScreenshot", nil)
	if err != nil {
		return fmt.Errorf("takeScreenshot: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var shot struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &shot); err != nil {
		return err
	}
	fmt.Print("\x1b[2J\x1b[H", shot.Content)
	return nil
}

type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	nextID  int
}

func dial(socketPath string) (*client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &client{conn: conn, scanner: scanner}, nil
}

func (c *client) call(method string, params any) (any, error) {
	c.nextID++
	req := map[string]any{"id": c.nextID, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, err
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("connection closed")
	}
	var resp struct {
		Result any `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s", resp.Error.Message)
	}
	return resp.Result, nil
}
