package invoker

import (
	"context"
	"encoding/json"
	"time"
)

// Remote command names understood by the Unity host.
const (
	CommandExecute   = "execute"
	CommandQuery     = "query"
	CommandPlayStart = "play_start"
	CommandPlayStop  = "play_stop"
	CommandPing      = "ping"
)

// ProgressFunc receives advisory progress payloads (e.g. {"status":"compiling"})
// emitted by the remote host while a call is in flight.
type ProgressFunc func(payload json.RawMessage)

// LogFunc receives log lines captured on the remote host as they stream in.
type LogFunc func(line string)

// Invoker is the interface every remote host implementation must satisfy.
type Invoker interface {
	// Invoke performs one remote call. A non-nil error means the call did not
	// produce a result (connection refused, broken frame, deadline); a result
	// with Success=false means the host ran the call and reported an error.
	// Implementations make no guarantee that TimeoutHint is honoured, and
	// cancelling ctx may not stop the work on the host.
	Invoke(ctx context.Context, call Call) (Result, error)

	// CheckConnection reports whether the host is reachable and responsive.
	CheckConnection(ctx context.Context) (bool, error)
}

// Call describes a single remote call.
type Call struct {
	Command     string        `json:"command"`
	Code        string        `json:"code,omitempty"`
	Query       string        `json:"query,omitempty"`
	TimeoutHint time.Duration `json:"timeout_hint,omitempty"`

	// Progress and Log are optional callbacks invoked while the call runs.
	Progress ProgressFunc `json:"-"`
	Log      LogFunc      `json:"-"`
}

// Result holds the outcome reported by the host for a call.
type Result struct {
	Success         bool            `json:"success"`
	Value           json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Logs            []string        `json:"logs,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}
