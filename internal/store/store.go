package store

import (
	"context"

	"github.com/seantiz/unitybridge/internal/model"
)

// Store persists the side channel of remote calls: log lines streamed while
// a call runs and every result the host reports, including results that
// arrive after their operation already completed. Operation state itself
// lives in memory in the registry.
type Store interface {
	InsertLogLine(ctx context.Context, operationID string, seq int, line string) error
	GetLogLines(ctx context.Context, operationID string) ([]model.LogLine, error)
	RecordResult(ctx context.Context, r *model.ResultRecord) error
	GetResults(ctx context.Context, operationID string) ([]model.ResultRecord, error)
	CountLateResults(ctx context.Context) (int, error)
	Close() error
}
