package unity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/unitybridge/internal/invoker"
)

// Emitter sends intermediate frames back to the bridge while a request runs.
// It is safe for concurrent use.
type Emitter struct {
	mu   sync.Mutex
	conn net.Conn
}

// Log sends a log line frame.
func (e *Emitter) Log(line string) error {
	return e.send(Message{Type: MsgTypeLog, Line: line})
}

// Progress sends a progress frame carrying payload encoded as JSON.
func (e *Emitter) Progress(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return e.send(Message{Type: MsgTypeProgress, Progress: data})
}

func (e *Emitter) send(msg Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return WriteMessage(e.conn, &msg)
}

// Handler executes one request on the host side.
type Handler func(ctx context.Context, req Request, emit *Emitter) Response

// Host accepts bridge connections and serves requests with a Handler. It
// stands in for the Unity editor.
type Host struct {
	listener net.Listener
	handler  Handler
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost creates a host serving requests from listener with handler.
func NewHost(listener net.Listener, handler Handler, logger *slog.Logger) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		listener: listener,
		handler:  handler,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Addr returns the address the host listens on.
func (h *Host) Addr() string {
	return h.listener.Addr().String()
}

// Serve accepts connections and handles requests. It blocks until the
// listener is closed, in which case it returns nil.
func (h *Host) Serve() error {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		h.wg.Go(func() {
			h.handleConnection(conn)
		})
	}
}

// Close stops accepting connections, cancels running handlers and waits for
// them to return.
func (h *Host) Close() error {
	h.cancel()
	err := h.listener.Close()
	h.wg.Wait()
	return err
}

// handleConnection processes a single request on conn.
func (h *Host) handleConnection(conn net.Conn) {
	defer conn.Close()
	emit := &Emitter{conn: conn}

	var req Request
	if err := ReadMessage(conn, &req); err != nil {
		h.logger.Warn("read request", "error", err)
		_ = emit.send(Message{Type: MsgTypeResult, Response: &Response{
			Error: fmt.Sprintf("read request: %v", err),
		}})
		return
	}

	start := time.Now()
	resp := h.handler(h.ctx, req, emit)
	if resp.ExecutionTimeMS == 0 {
		resp.ExecutionTimeMS = time.Since(start).Milliseconds()
	}

	if err := emit.send(Message{Type: MsgTypeResult, Response: &resp}); err != nil {
		// The bridge may have given up on this call already.
		h.logger.Debug("send result", "request_id", req.ID, "error", err)
	}
}

// returnPattern matches a single "return <expr>;" statement.
var returnPattern = regexp.MustCompile(`^\s*return\s+(.+?)\s*;\s*$`)

// ScriptedHandler returns a Handler that imitates the editor: every request
// takes latency to complete, "return <expr>;" snippets evaluate to expr
// (as JSON when expr is valid JSON, as a string otherwise), and code that
// contains "throw" fails with a remote error.
func ScriptedHandler(latency time.Duration) Handler {
	var (
		mu      sync.Mutex
		playing bool
	)
	setPlaying := func(v bool) json.RawMessage {
		mu.Lock()
		defer mu.Unlock()
		playing = v
		out, _ := json.Marshal(map[string]bool{"playing": playing})
		return out
	}

	return func(ctx context.Context, req Request, emit *Emitter) Response {
		if req.Command != invoker.CommandPing {
			_ = emit.Progress(map[string]string{"status": "compiling"})
		}

		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Response{Error: "host shutting down"}
		}

		switch req.Command {
		case invoker.CommandPing:
			return Response{Success: true, Result: json.RawMessage(`true`)}
		case invoker.CommandExecute:
			_ = emit.Log("executing snippet " + req.ID)
			return evaluate(req.Code)
		case invoker.CommandQuery:
			out, _ := json.Marshal(map[string]string{"query": req.Query})
			return Response{Success: true, Result: out}
		case invoker.CommandPlayStart:
			return Response{Success: true, Result: setPlaying(true)}
		case invoker.CommandPlayStop:
			return Response{Success: true, Result: setPlaying(false)}
		default:
			return Response{Error: fmt.Sprintf("unknown command: %q", req.Command)}
		}
	}
}

func evaluate(code string) Response {
	if strings.Contains(code, "throw") {
		return Response{Error: "Exception: thrown by snippet", Logs: []string{"exception raised"}}
	}
	m := returnPattern.FindStringSubmatch(code)
	if m == nil {
		return Response{Success: true, Result: json.RawMessage(`null`)}
	}
	expr := m[1]
	if json.Valid([]byte(expr)) {
		return Response{Success: true, Result: json.RawMessage(expr)}
	}
	out, _ := json.Marshal(expr)
	return Response{Success: true, Result: out}
}
