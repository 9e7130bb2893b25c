package model

import (
	"encoding/json"
	"slices"
	"time"
)

// State is the lifecycle state of an operation.
type State string

// Operation state constants.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// External status values reported to tool callers.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusTimeout   = "timeout"
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
)

// validTransitions maps each state to the set of states it may transition to.
// Terminal states have no entry.
var validTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning:   true,
		StateFailed:    true,
		StateTimedOut:  true,
		StateCancelled: true,
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
		StateTimedOut:  true,
		StateCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether s is one of the final states.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Status maps the internal state onto the status vocabulary of the tool layer.
func (s State) Status() string {
	switch s {
	case StateSucceeded:
		return StatusSuccess
	case StateFailed:
		return StatusError
	case StateTimedOut:
		return StatusTimeout
	case StateCancelled:
		return StatusCancelled
	default:
		return StatusPending
	}
}

// Request is the tool invocation that produced an operation. Params are
// echoed back to callers and never interpreted by the lifecycle code.
type Request struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	r.Params = slices.Clone(r.Params)
	return r
}

// Result is the success payload of an operation.
type Result struct {
	Value           json.RawMessage `json:"value,omitempty"`
	Logs            []string        `json:"logs,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}

// Clone returns a deep copy of r. A nil receiver yields nil.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Value = slices.Clone(r.Value)
	c.Logs = slices.Clone(r.Logs)
	return &c
}

// Operation is a single trackable unit of asynchronous remote work.
type Operation struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	Request         Request    `json:"request"`
	Result          *Result    `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of o that shares no mutable memory with it.
func (o Operation) Clone() Operation {
	o.Request = o.Request.Clone()
	o.Result = o.Result.Clone()
	if o.StartedAt != nil {
		t := *o.StartedAt
		o.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	return o
}

// LogLine represents a single persisted log line captured from a remote call.
type LogLine struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id"`
	Seq         int       `json:"seq"`
	Line        string    `json:"line"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResultRecord is a remote result written to the result log. Late is set when
// the result arrived after the operation had already reached a terminal state.
type ResultRecord struct {
	ID              int64           `json:"id"`
	OperationID     string          `json:"operation_id"`
	Success         bool            `json:"success"`
	Value           json.RawMessage `json:"value,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	Late            bool            `json:"late"`
	RecordedAt      time.Time       `json:"recorded_at"`
}
