package unity

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize is the maximum allowed frame payload (16 MiB).
const MaxMessageSize = 16 << 20

// Request is the JSON payload sent from the bridge to the host.
type Request struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	Code      string `json:"code,omitempty"`
	Query     string `json:"query,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Response is the final outcome the host reports for a request.
type Response struct {
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Logs            []string        `json:"logs,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}

// Host→bridge message types.
const (
	MsgTypeLog      = "log"
	MsgTypeProgress = "progress"
	MsgTypeResult   = "result"
)

// Message is the envelope for all host→bridge frames. While a request runs
// the host may send any number of log and progress messages; it finishes with
// exactly one result message.
type Message struct {
	Type     string          `json:"type"`
	Line     string          `json:"line,omitempty"`
	Progress json.RawMessage `json:"progress,omitempty"`
	Response *Response       `json:"response,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	// Single write so concurrent writers guarded by a mutex never interleave
	// a prefix with another frame's payload.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
