package invoker

import (
	"context"
	"log/slog"
	"time"
)

type loggingInvoker struct {
	next   Invoker
	logger *slog.Logger
}

// WithLogging wraps next so that every call and its outcome are logged.
func WithLogging(next Invoker, logger *slog.Logger) Invoker {
	if next == nil {
		return nil
	}
	return &loggingInvoker{next: next, logger: logger}
}

func (l *loggingInvoker) Invoke(ctx context.Context, call Call) (Result, error) {
	start := time.Now()
	l.logger.Debug("remote call started", "command", call.Command)

	res, err := l.next.Invoke(ctx, call)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case err != nil:
		l.logger.Warn("remote call failed", "command", call.Command, "duration_ms", elapsed, "error", err)
	case !res.Success:
		l.logger.Info("remote call reported error", "command", call.Command, "duration_ms", elapsed, "remote_error", res.Error)
	default:
		l.logger.Debug("remote call finished", "command", call.Command, "duration_ms", elapsed, "execution_time_ms", res.ExecutionTimeMS)
	}
	return res, err
}

func (l *loggingInvoker) CheckConnection(ctx context.Context) (bool, error) {
	ok, err := l.next.CheckConnection(ctx)
	if err != nil {
		l.logger.Debug("connection check failed", "error", err)
	}
	return ok, err
}
