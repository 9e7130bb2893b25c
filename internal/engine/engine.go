package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/unitybridge/internal/invoker"
	"github.com/seantiz/unitybridge/internal/model"
	"github.com/seantiz/unitybridge/internal/registry"
	"github.com/seantiz/unitybridge/internal/retry"
	"github.com/seantiz/unitybridge/internal/store"
)

// Defaults applied by New when an Options field is zero.
const (
	DefaultDeadline    = 1000 * time.Millisecond
	DefaultCallCeiling = 5 * time.Minute
)

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("engine is shutting down")

// Options configures an Engine.
type Options struct {
	// Retry policy for each remote call. A nil MaxRetries or Exponential
	// selects the retry package defaults; retry.Int(0) disables retries.
	MaxRetries  *int
	BaseDelay   time.Duration
	Exponential *bool

	// CallCeiling bounds a single remote attempt independently of the
	// operation deadline.
	CallCeiling time.Duration

	// OnProgress, if set, receives progress payloads as they arrive. It is
	// advisory and never changes operation state.
	OnProgress func(operationID string, payload json.RawMessage)
}

// DefaultOptions returns the retry policy and ceiling used in production.
func DefaultOptions() Options {
	return Options{
		MaxRetries:  retry.Int(retry.DefaultMaxRetries),
		BaseDelay:   retry.DefaultBaseDelay,
		Exponential: retry.Bool(true),
		CallCeiling: DefaultCallCeiling,
	}
}

// Engine runs operations stored in a registry against a remote invoker.
type Engine struct {
	registry *registry.Registry
	tools    *invoker.Tools
	invoker  invoker.Invoker
	store    store.Store
	opts     Options
	logger   *slog.Logger
	broker   *EventBroker

	// ops tracks run goroutines, calls tracks remote calls which may
	// outlive their operation.
	ops   sync.WaitGroup
	calls sync.WaitGroup

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	shutdown bool
}

// New creates an engine. st may be nil, in which case log lines and results
// are not persisted.
func New(reg *registry.Registry, tools *invoker.Tools, inv invoker.Invoker, st store.Store, opts Options, logger *slog.Logger) *Engine {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = retry.DefaultBaseDelay
	}
	if opts.CallCeiling <= 0 {
		opts.CallCeiling = DefaultCallCeiling
	}
	return &Engine{
		registry: reg,
		tools:    tools,
		invoker:  inv,
		store:    st,
		opts:     opts,
		logger:   logger,
		broker:   NewEventBroker(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Start moves a pending operation to running and launches the remote call
// in the background. A deadline <= 0 selects DefaultDeadline.
//
// An operation whose tool cannot be built into a call is failed at once.
// An operation cancelled before Start runs stays cancelled and no call is
// made; Start returns nil in both cases since the outcome is recorded in the
// registry.
func (e *Engine) Start(id string, deadline time.Duration) error {
	op, err := e.registry.Get(id)
	if err != nil {
		return fmt.Errorf("start operation %s: %w", id, err)
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	logger := e.logger.With("operation_id", id, "tool", op.Request.Tool)

	call, err := e.buildCall(op.Request)
	if err != nil {
		e.commit(logger, id, model.StateFailed, registry.Payload{Error: err.Error()})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		cancel()
		// Leave nothing pending behind.
		e.Cancel(id)
		return ErrShuttingDown
	}
	e.cancels[id] = cancel
	e.mu.Unlock()

	if err := e.registry.Transition(id, model.StateRunning, registry.Payload{}); err != nil {
		e.release(id, cancel)
		if errors.Is(err, registry.ErrAlreadyTerminal) {
			logger.Debug("operation finished before it started", "error", err)
			return nil
		}
		return fmt.Errorf("start operation %s: %w", id, err)
	}
	operationsRunning.Inc()
	logger.Info("operation started", "deadline_ms", deadline.Milliseconds())

	e.ops.Go(func() {
		e.run(ctx, cancel, id, call, logger)
	})
	return nil
}

// Cancel requests cancellation of an operation. An accepted cancel commits
// Cancelled immediately; the remote call is not interrupted but its result
// will be ignored.
func (e *Engine) Cancel(id string) registry.CancelOutcome {
	outcome := e.registry.RequestCancel(id)
	if outcome != registry.CancelAccepted {
		return outcome
	}

	logger := e.logger.With("operation_id", id)
	if !e.commit(logger, id, model.StateCancelled, registry.Payload{}) {
		// A result or the deadline got there first.
		return registry.CancelAlreadyTerminal
	}

	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return registry.CancelAccepted
}

// Wait blocks until every started operation has reached a terminal state.
// Remote calls abandoned by timed out or cancelled operations may still be
// running.
func (e *Engine) Wait() {
	e.ops.Wait()
}

// Shutdown stops accepting new operations, cancels the running ones and
// waits for outstanding remote calls to return or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	ids := make([]string, 0, len(e.cancels))
	for id := range e.cancels {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		e.ops.Wait()
		e.calls.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for remote calls: %w", ctx.Err())
	}
}

func (e *Engine) buildCall(req model.Request) (invoker.Call, error) {
	tool, err := e.tools.Resolve(req.Tool)
	if err != nil {
		return invoker.Call{}, err
	}
	call, err := tool.Build(req.Params)
	if err != nil {
		return invoker.Call{}, fmt.Errorf("build %s call: %w", req.Tool, err)
	}
	return call, nil
}

// run waits for the operation to finish one way or another. The remote call
// commits its own outcome; run commits the deadline and shutdown outcomes.
func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, id string, call invoker.Call, logger *slog.Logger) {
	defer operationsRunning.Dec()
	defer e.release(id, cancel)

	done, err := e.registry.Done(id)
	if err != nil {
		logger.Error("operation vanished from registry", "error", err)
		return
	}

	e.calls.Go(func() {
		e.call(ctx, id, call, logger)
	})

	select {
	case <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.commit(logger, id, model.StateTimedOut, registry.Payload{
				Error: "operation timed out; the remote call may still be running",
			})
			return
		}
		e.commit(logger, id, model.StateCancelled, registry.Payload{})
	}
}

// call performs the remote call with retries and commits its outcome. ctx is
// the operation context: it stops further retries but not an attempt that
// is already in flight.
func (e *Engine) call(ctx context.Context, id string, call invoker.Call, logger *slog.Logger) {
	var seq atomic.Int32
	call.Log = func(line string) {
		n := int(seq.Add(1) - 1)
		if e.store != nil {
			if err := e.store.InsertLogLine(context.Background(), id, n, line); err != nil {
				logger.Error("failed to persist log line", "seq", n, "error", err)
			}
		}
		e.broker.Publish(id, logEvent(line))
	}
	call.Progress = func(payload json.RawMessage) {
		e.broker.Publish(id, Event{Type: EventProgress, Data: payload})
		if e.opts.OnProgress != nil {
			e.opts.OnProgress(id, payload)
		}
	}

	detached := context.WithoutCancel(ctx)
	res, err := retry.Invoke(ctx, func() (invoker.Result, error) {
		attemptCtx, cancel := context.WithTimeout(detached, e.opts.CallCeiling)
		defer cancel()
		return e.invoker.Invoke(attemptCtx, call)
	}, retry.Options[invoker.Result]{
		MaxRetries:  e.opts.MaxRetries,
		BaseDelay:   e.opts.BaseDelay,
		Exponential: e.opts.Exponential,
		Logger:      logger,
	})

	if err != nil {
		if ctx.Err() != nil {
			// Retries stopped because the operation already ended.
			logger.Debug("remote call abandoned", "error", err)
			return
		}
		e.commit(logger, id, model.StateFailed, registry.Payload{Error: err.Error()})
		return
	}

	var committed bool
	if res.Success {
		committed = e.commit(logger, id, model.StateSucceeded, registry.Payload{Result: &model.Result{
			Value:           res.Value,
			Logs:            res.Logs,
			ExecutionTimeMS: res.ExecutionTimeMS,
		}})
	} else {
		msg := res.Error
		if msg == "" {
			msg = "remote call reported failure"
		}
		committed = e.commit(logger, id, model.StateFailed, registry.Payload{Error: msg})
	}
	if !committed {
		logger.Debug("discarding late result", "success", res.Success, "execution_time_ms", res.ExecutionTimeMS)
	}

	if e.store != nil {
		rec := &model.ResultRecord{
			OperationID:     id,
			Success:         res.Success,
			Value:           res.Value,
			Error:           res.Error,
			ExecutionTimeMS: res.ExecutionTimeMS,
			Late:            !committed,
		}
		if err := e.store.RecordResult(context.Background(), rec); err != nil {
			logger.Error("failed to record result", "error", err)
		}
	}
}

// commit writes a terminal state and reports whether this write won. The
// winner publishes the complete event and closes the event stream. Losing to
// another terminal write is expected; anything else is a bug.
func (e *Engine) commit(logger *slog.Logger, id string, to model.State, payload registry.Payload) bool {
	err := e.registry.Transition(id, to, payload)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrAlreadyTerminal):
		logger.Debug("terminal write lost race", "state", to)
		return false
	default:
		logger.Error("unexpected transition failure", "state", to, "error", err)
		return false
	}

	operationsTotal.WithLabelValues(string(to)).Inc()
	if op, err := e.registry.Get(id); err == nil && op.CompletedAt != nil {
		operationDuration.WithLabelValues(string(to)).Observe(op.CompletedAt.Sub(op.CreatedAt).Seconds())
	}

	data, _ := json.Marshal(map[string]string{"state": string(to), "status": to.Status()})
	e.broker.Publish(id, Event{Type: EventComplete, Data: data})
	e.broker.Close(id)

	if to == model.StateFailed || to == model.StateTimedOut {
		logger.Info("operation finished", "state", to, "error", payload.Error)
	} else {
		logger.Info("operation finished", "state", to)
	}
	return true
}

// release drops the operation's cancel func and stops its deadline timer.
func (e *Engine) release(id string, cancel context.CancelFunc) {
	cancel()
	e.mu.Lock()
	delete(e.cancels, id)
	e.mu.Unlock()
}
