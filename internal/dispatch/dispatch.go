// Package dispatch is the entry point callers use to run tools: it creates
// operations, starts them, waits a bounded time for an answer and serves
// status queries afterwards.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/unitybridge/internal/engine"
	"github.com/seantiz/unitybridge/internal/invoker"
	"github.com/seantiz/unitybridge/internal/model"
	"github.com/seantiz/unitybridge/internal/registry"
	"github.com/seantiz/unitybridge/internal/retry"
)

// DefaultGrace is added to the deadline when Dispatch waits for a result, so
// that an operation timing out right at its deadline is reported as such
// rather than as pending.
const DefaultGrace = 25 * time.Millisecond

var (
	// ErrNotFound is returned for unknown operation ids.
	ErrNotFound = registry.ErrNotFound

	// ErrInvalidParams is returned when tool parameters cannot be turned
	// into a remote call.
	ErrInvalidParams = errors.New("invalid tool parameters")
)

// Options configures a Dispatcher.
type Options struct {
	DefaultDeadline time.Duration
	Grace           time.Duration
	ProbeDelay      time.Duration
}

// Dispatcher ties the registry, the engine and the tool catalogue together.
type Dispatcher struct {
	registry *registry.Registry
	engine   *engine.Engine
	tools    *invoker.Tools
	invoker  invoker.Invoker
	opts     Options
	logger   *slog.Logger
}

// New creates a dispatcher. inv is used only for connection probes.
func New(reg *registry.Registry, eng *engine.Engine, tools *invoker.Tools, inv invoker.Invoker, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.DefaultDeadline <= 0 {
		opts.DefaultDeadline = engine.DefaultDeadline
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = retry.DefaultBaseDelay
	}
	return &Dispatcher{
		registry: reg,
		engine:   eng,
		tools:    tools,
		invoker:  inv,
		opts:     opts,
		logger:   logger,
	}
}

// Dispatch creates an operation for req, starts it and waits up to the
// deadline for it to finish. The deadline is taken from the argument, then
// from the "timeout" tool parameter, then from the default. An operation
// still running when the wait ends is returned with IsComplete false and
// keeps running in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.Request, deadline time.Duration) (Response, error) {
	tool, err := d.tools.Resolve(req.Tool)
	if err != nil {
		return Response{}, err
	}
	if _, err := tool.Build(req.Params); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	if deadline <= 0 {
		deadline = invoker.DeadlineFromParams(req.Params)
	}
	if deadline <= 0 {
		deadline = d.opts.DefaultDeadline
	}

	id := d.registry.Create(req)
	d.logger.Debug("operation created", "operation_id", id, "tool", req.Tool, "deadline_ms", deadline.Milliseconds())

	if err := d.engine.Start(id, deadline); err != nil {
		return Response{}, err
	}

	done, err := d.registry.Done(id)
	if err != nil {
		return Response{}, err
	}

	timer := time.NewTimer(deadline + d.opts.Grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
		// The caller went away; the operation carries on and stays pollable.
	}
	return d.Poll(id)
}

// Poll returns the current view of an operation.
func (d *Dispatcher) Poll(id string) (Response, error) {
	op, err := d.registry.Get(id)
	if err != nil {
		return Response{}, err
	}
	return NewResponse(op), nil
}

// Cancel asks for an operation to be cancelled. Cancelling a finished
// operation is not an error; the outcome says so.
func (d *Dispatcher) Cancel(id string) (CancelResponse, error) {
	outcome := d.engine.Cancel(id)
	if outcome == registry.CancelNotFound {
		return CancelResponse{}, ErrNotFound
	}

	resp := CancelResponse{ID: id, Outcome: outcome}
	switch outcome {
	case registry.CancelAccepted:
		resp.Message = "operation cancelled; a result arriving later will be ignored"
	case registry.CancelAlreadyTerminal:
		resp.Message = "operation already completed"
	}
	if op, err := d.registry.Get(id); err == nil {
		resp.Status = op.State.Status()
	}
	return resp, nil
}

// List returns a page of operations, newest first.
func (d *Dispatcher) List(limit, offset int) ListResponse {
	ops, total := d.registry.List(limit, offset)
	out := ListResponse{
		Operations: make([]Response, 0, len(ops)),
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	}
	for _, op := range ops {
		out.Operations = append(out.Operations, NewResponse(op))
	}
	return out
}

// CheckConnection probes the remote host, retrying once.
func (d *Dispatcher) CheckConnection(ctx context.Context) ConnectionResponse {
	start := time.Now()
	ok := retry.Probe(ctx, func() (bool, error) {
		return d.invoker.CheckConnection(ctx)
	}, d.opts.ProbeDelay, d.logger)

	resp := ConnectionResponse{Connected: ok, LatencyMS: time.Since(start).Milliseconds()}
	if ok {
		resp.Message = "connected to Unity"
	} else {
		resp.Message = "not connected to Unity"
	}
	return resp
}

// Tools lists the tool catalogue.
func (d *Dispatcher) Tools() []invoker.Tool {
	return d.tools.List()
}

// Stats returns operation counts by state.
func (d *Dispatcher) Stats() registry.Stats {
	return d.registry.Stats()
}

// RequestFromArgs builds a request from a tool name and decoded arguments.
func RequestFromArgs(tool string, args map[string]any) (model.Request, error) {
	req := model.Request{Tool: tool}
	if len(args) == 0 {
		return req, nil
	}
	params, err := json.Marshal(args)
	if err != nil {
		return req, fmt.Errorf("encode params: %w", err)
	}
	req.Params = params
	return req, nil
}
