package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/seantiz/unitybridge/internal/dispatch"
	"github.com/seantiz/unitybridge/internal/invoker"
	"github.com/seantiz/unitybridge/internal/model"
)

// Management tool names.
const (
	toolGetOperation    = "unity_get_operation"
	toolCancelOperation = "unity_cancel_operation"
	toolListOperations  = "unity_list_operations"
	toolCheckConnection = "unity_check_connection"
)

// registerCatalogueTools adds one MCP tool per catalogue entry, with an
// input schema derived from the tool's declared parameters.
func (s *Server) registerCatalogueTools() {
	for _, t := range s.dispatcher.Tools() {
		opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
		for _, p := range t.Params {
			popts := []mcp.PropertyOption{mcp.Description(p.Description)}
			if p.Required {
				popts = append(popts, mcp.Required())
			}
			switch p.Type {
			case "number":
				opts = append(opts, mcp.WithNumber(p.Name, popts...))
			case "boolean":
				opts = append(opts, mcp.WithBoolean(p.Name, popts...))
			default:
				opts = append(opts, mcp.WithString(p.Name, popts...))
			}
		}
		s.mcpServer.AddTool(mcp.NewTool(toolPrefix+t.Name, opts...), s.dispatchHandler(t.Name))
	}
}

func (s *Server) registerOperationTools() {
	s.mcpServer.AddTool(mcp.NewTool(toolGetOperation,
		mcp.WithDescription("Get the current status and result of an operation. Use this to poll operations that returned is_complete=false."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id", mcp.Required(), mcp.Description("Operation id returned by a previous tool call")),
	), s.handleGetOperation)

	s.mcpServer.AddTool(mcp.NewTool(toolCancelOperation,
		mcp.WithDescription("Cancel a running operation. Work already started in Unity is not interrupted; its result is ignored."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Operation id to cancel")),
	), s.handleCancelOperation)

	s.mcpServer.AddTool(mcp.NewTool(toolListOperations,
		mcp.WithDescription("List recent operations, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("limit", mcp.Description("Maximum number of operations to return (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Number of operations to skip")),
	), s.handleListOperations)

	s.mcpServer.AddTool(mcp.NewTool(toolCheckConnection,
		mcp.WithDescription("Check whether the Unity editor is reachable."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleCheckConnection)
}

// dispatchHandler runs a catalogue tool through the dispatcher.
func (s *Server) dispatchHandler(tool string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if res := s.allow(tool); res != nil {
			return res, nil
		}

		req, err := dispatch.RequestFromArgs(tool, request.GetArguments())
		if err != nil {
			return errorResponse(err.Error()), nil
		}

		resp, err := s.dispatcher.Dispatch(ctx, req, 0)
		if errors.Is(err, invoker.ErrUnknownTool) || errors.Is(err, dispatch.ErrInvalidParams) {
			return errorResponse(err.Error()), nil
		}
		if err != nil {
			s.logger.Error("dispatch tool call", "tool", tool, "error", err)
			return errorResponse(fmt.Sprintf("Failed to run %s: %v", tool, err)), nil
		}

		res := jsonResponse(resp)
		res.IsError = resp.State.IsTerminal() && resp.Status == model.StatusError
		return res, nil
	}
}

func (s *Server) handleGetOperation(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.allow(toolGetOperation); res != nil {
		return res, nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}

	resp, err := s.dispatcher.Poll(id)
	if errors.Is(err, dispatch.ErrNotFound) {
		return errorResponse(fmt.Sprintf("Operation %s not found", id)), nil
	}
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return jsonResponse(resp), nil
}

func (s *Server) handleCancelOperation(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.allow(toolCancelOperation); res != nil {
		return res, nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}

	resp, err := s.dispatcher.Cancel(id)
	if errors.Is(err, dispatch.ErrNotFound) {
		return errorResponse(fmt.Sprintf("Operation %s not found", id)), nil
	}
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return jsonResponse(resp), nil
}

func (s *Server) handleListOperations(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.allow(toolListOperations); res != nil {
		return res, nil
	}
	limit := request.GetInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := max(request.GetInt("offset", 0), 0)
	return jsonResponse(s.dispatcher.List(limit, offset)), nil
}

func (s *Server) handleCheckConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := s.allow(toolCheckConnection); res != nil {
		return res, nil
	}
	return jsonResponse(s.dispatcher.CheckConnection(ctx)), nil
}
