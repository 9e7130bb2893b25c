package unity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/seantiz/unitybridge/internal/invoker"
)

// Client defaults.
const (
	DefaultDialTimeout = 2 * time.Second
	DefaultMaxInFlight = 4
)

// Compile-time interface satisfaction check.
var _ invoker.Invoker = (*Client)(nil)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Addr is the host:port the Unity editor bridge listens on.
	Addr string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// MaxInFlight bounds concurrent calls; the editor executes on its main
	// thread, so piling up connections only adds queueing on its side.
	MaxInFlight int64
}

// Client is an invoker.Invoker that talks to the Unity editor over TCP.
type Client struct {
	addr   string
	dialer net.Dialer
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewClient creates a client for the host at cfg.Addr.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	return &Client{
		addr:   cfg.Addr,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
		logger: logger,
	}
}

// Invoke sends call to the host and waits for its result frame. Log and
// progress frames are delivered to the call's callbacks as they arrive.
func (c *Client) Invoke(ctx context.Context, call invoker.Call) (invoker.Result, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return invoker.Result{}, fmt.Errorf("wait for call slot: %w", err)
	}
	defer c.sem.Release(1)

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return invoker.Result{}, fmt.Errorf("connect to unity host %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return invoker.Result{}, fmt.Errorf("set deadline: %w", err)
		}
	}
	// Unblock reads if ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	req := Request{
		ID:        uuid.NewString(),
		Command:   call.Command,
		Code:      call.Code,
		Query:     call.Query,
		TimeoutMS: call.TimeoutHint.Milliseconds(),
	}
	if err := WriteMessage(conn, &req); err != nil {
		return invoker.Result{}, fmt.Errorf("send request: %w", err)
	}

	resp, err := readMessages(bufio.NewReader(conn), call)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return invoker.Result{}, fmt.Errorf("call %s: %w", req.ID, ctxErr)
		}
		// The socket deadline can fire just before the context timer does.
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return invoker.Result{}, fmt.Errorf("call %s: %w", req.ID, context.DeadlineExceeded)
		}
		return invoker.Result{}, fmt.Errorf("call %s: %w", req.ID, err)
	}

	return invoker.Result{
		Success:         resp.Success,
		Value:           resp.Result,
		Error:           resp.Error,
		Logs:            resp.Logs,
		ExecutionTimeMS: resp.ExecutionTimeMS,
	}, nil
}

// CheckConnection sends a ping and reports whether the host answered
// successfully.
func (c *Client) CheckConnection(ctx context.Context) (bool, error) {
	res, err := c.Invoke(ctx, invoker.Call{Command: invoker.CommandPing})
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

// readMessages reads Message frames until the result frame arrives. Streamed
// log lines are prepended to the result's own logs.
func readMessages(r io.Reader, call invoker.Call) (Response, error) {
	var streamed []string
	for {
		var msg Message
		if err := ReadMessage(r, &msg); err != nil {
			return Response{}, fmt.Errorf("read host message: %w", err)
		}

		switch msg.Type {
		case MsgTypeLog:
			streamed = append(streamed, msg.Line)
			if call.Log != nil {
				call.Log(msg.Line)
			}
		case MsgTypeProgress:
			if call.Progress != nil && len(msg.Progress) > 0 {
				call.Progress(msg.Progress)
			}
		case MsgTypeResult:
			if msg.Response == nil {
				return Response{}, errors.New("received result message with nil response")
			}
			resp := *msg.Response
			if len(streamed) > 0 {
				resp.Logs = append(streamed, resp.Logs...)
			}
			return resp, nil
		default:
			return Response{}, fmt.Errorf("unknown message type: %q", msg.Type)
		}
	}
}
