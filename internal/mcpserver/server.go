// Package mcpserver exposes the Unity tool catalogue and operation
// management to AI assistants over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/seantiz/unitybridge/internal/dispatch"
)

// DefaultCallsPerMinute bounds tool calls when Config leaves it unset.
const DefaultCallsPerMinute = 120

// toolPrefix namespaces catalogue tools for the assistant.
const toolPrefix = "unity_"

// Config configures the MCP server.
type Config struct {
	// Name is the server name (default: "unitybridge").
	Name string

	// Version is reported to clients (default: "dev").
	Version string

	// CallsPerMinute is the token bucket refill rate for tool calls. The
	// bucket holds the same number of tokens.
	CallsPerMinute int
}

// Server wraps the MCP server and the dispatcher it forwards to.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher *dispatch.Dispatcher
	limiter    *rate.Limiter
	logger     *slog.Logger
	version    string
}

// New creates an MCP server with one tool per catalogue entry plus the
// operation management tools. logger must not write to stdout, which
// carries the protocol.
func New(cfg Config, d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "unitybridge"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = DefaultCallsPerMinute
	}

	s := &Server{
		mcpServer:  server.NewMCPServer(cfg.Name, cfg.Version),
		dispatcher: d,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.CallsPerMinute)/60.0), cfg.CallsPerMinute),
		logger:     logger,
		version:    cfg.Version,
	}
	s.registerCatalogueTools()
	s.registerOperationTools()
	return s
}

// Run serves MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting MCP server", "version", s.version)

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// ToolNames returns the names of all registered tools.
func (s *Server) ToolNames() []string {
	tools := s.mcpServer.ListTools()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	return names
}

// handler returns the registered handler for name, or nil.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	t := s.mcpServer.GetTool(name)
	if t == nil {
		return nil
	}
	return t.Handler
}

// allow applies the rate limit and returns an error result when exceeded.
func (s *Server) allow(tool string) *mcp.CallToolResult {
	if s.limiter.Allow() {
		return nil
	}
	s.logger.Warn("tool call rate limited", "tool", tool)
	return errorResponse("Rate limit exceeded. Please try again later.")
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// jsonResponse renders v as indented JSON text.
func jsonResponse(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
