package dispatch

import (
	"encoding/json"
	"time"

	"github.com/seantiz/unitybridge/internal/model"
	"github.com/seantiz/unitybridge/internal/registry"
)

// Response is what callers see of an operation.
type Response struct {
	ID              string          `json:"id"`
	Tool            string          `json:"tool"`
	State           model.State     `json:"state"`
	Status          string          `json:"status"`
	IsComplete      bool            `json:"is_complete"`
	Result          json.RawMessage `json:"result,omitempty"`
	Logs            []string        `json:"logs,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms,omitempty"`
	Error           string          `json:"error,omitempty"`
	Message         string          `json:"message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// IsComplete reports whether polling an operation in state s again is
// pointless. A timed out operation is not complete: the remote call may
// still be running and its late result lands in the result log.
func IsComplete(s model.State) bool {
	switch s {
	case model.StateSucceeded, model.StateFailed, model.StateCancelled:
		return true
	}
	return false
}

// NewResponse converts an operation snapshot.
func NewResponse(op model.Operation) Response {
	r := Response{
		ID:          op.ID,
		Tool:        op.Request.Tool,
		State:       op.State,
		Status:      op.State.Status(),
		IsComplete:  IsComplete(op.State),
		Error:       op.Error,
		CreatedAt:   op.CreatedAt,
		StartedAt:   op.StartedAt,
		CompletedAt: op.CompletedAt,
	}
	if op.Result != nil {
		r.Result = op.Result.Value
		r.Logs = op.Result.Logs
		r.ExecutionTimeMS = op.Result.ExecutionTimeMS
	}

	switch op.State {
	case model.StatePending, model.StateRunning:
		r.Message = "operation is still running; poll again with its id"
	case model.StateTimedOut:
		r.Message = "operation timed out; the remote call may still finish"
	case model.StateCancelled:
		r.Message = "operation was cancelled"
	}
	return r
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	ID      string                 `json:"id"`
	Outcome registry.CancelOutcome `json:"outcome"`
	Status  string                 `json:"status,omitempty"`
	Message string                 `json:"message"`
}

// ListResponse is one page of operations.
type ListResponse struct {
	Operations []Response `json:"operations"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// ConnectionResponse reports the result of a connection probe.
type ConnectionResponse struct {
	Connected bool   `json:"connected"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message"`
}
