package invoker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnknownTool is returned when a tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool names in the default catalogue.
const (
	ToolExecuteCode = "execute_code"
	ToolQuery       = "query"
	ToolPlayStart   = "play_start"
	ToolPlayStop    = "play_stop"
)

// Param describes one tool parameter for schema generation.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number" or "boolean"
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool turns opaque tool-call parameters into a remote Call.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`

	Build func(params json.RawMessage) (Call, error) `json:"-"`
}

// Tools is a catalogue of named tools. It is safe for concurrent use.
type Tools struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewTools creates an empty catalogue.
func NewTools() *Tools {
	return &Tools{
		tools: make(map[string]Tool),
	}
}

// DefaultTools returns a catalogue with the built-in Unity tools registered.
func DefaultTools() *Tools {
	t := NewTools()
	t.Register(Tool{
		Name:        ToolExecuteCode,
		Description: "Execute C# code inside the Unity editor and return its result.",
		Params: []Param{
			{Name: "code", Type: "string", Description: "C# statements to run; use return to produce a value", Required: true},
			{Name: "timeout", Type: "number", Description: "Deadline in milliseconds (default 1000)"},
		},
		Build: buildExecute,
	})
	t.Register(Tool{
		Name:        ToolQuery,
		Description: "Run a read-only query against the Unity editor state (scene hierarchy, assets, selection).",
		Params: []Param{
			{Name: "query", Type: "string", Description: "Query expression", Required: true},
			{Name: "timeout", Type: "number", Description: "Deadline in milliseconds (default 1000)"},
		},
		Build: buildQuery,
	})
	t.Register(Tool{
		Name:        ToolPlayStart,
		Description: "Enter play mode in the Unity editor.",
		Build:       commandOnly(CommandPlayStart),
	})
	t.Register(Tool{
		Name:        ToolPlayStop,
		Description: "Exit play mode in the Unity editor.",
		Build:       commandOnly(CommandPlayStop),
	})
	return t
}

// Register adds a tool to the catalogue, replacing any tool with the same name.
func (t *Tools) Register(tool Tool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[tool.Name] = tool
}

// Resolve returns the tool registered under name.
func (t *Tools) Resolve(name string) (Tool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tool, ok := t.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns all registered tools sorted by name for a stable response.
func (t *Tools) List() []Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]Tool, 0, len(t.tools))
	for _, tool := range t.tools {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// codeParams is shared by execute_code and query.
type codeParams struct {
	Code    string  `json:"code"`
	Query   string  `json:"query"`
	Timeout float64 `json:"timeout"`
}

func decodeParams(params json.RawMessage) (codeParams, error) {
	var p codeParams
	if len(params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

func buildExecute(params json.RawMessage) (Call, error) {
	p, err := decodeParams(params)
	if err != nil {
		return Call{}, err
	}
	if p.Code == "" {
		return Call{}, errors.New("code is required")
	}
	return Call{
		Command:     CommandExecute,
		Code:        p.Code,
		TimeoutHint: time.Duration(p.Timeout * float64(time.Millisecond)),
	}, nil
}

func buildQuery(params json.RawMessage) (Call, error) {
	p, err := decodeParams(params)
	if err != nil {
		return Call{}, err
	}
	if p.Query == "" {
		return Call{}, errors.New("query is required")
	}
	return Call{
		Command:     CommandQuery,
		Query:       p.Query,
		TimeoutHint: time.Duration(p.Timeout * float64(time.Millisecond)),
	}, nil
}

func commandOnly(command string) func(json.RawMessage) (Call, error) {
	return func(json.RawMessage) (Call, error) {
		return Call{Command: command}, nil
	}
}

// DeadlineFromParams extracts the "timeout" parameter (milliseconds) from
// tool params. It returns zero when absent or malformed.
func DeadlineFromParams(params json.RawMessage) time.Duration {
	p, err := decodeParams(params)
	if err != nil || p.Timeout <= 0 {
		return 0
	}
	return time.Duration(p.Timeout * float64(time.Millisecond))
}
