// Package mcpserver exposes the AI Tool Executor over stdio MCP, per
// SPEC_FULL.md's optional bonus tool surface: an editor or a second
// model session can call the same search_text/read_file/find_usages
// tools the scan loop uses, without the daemon in the loop. Grounded
// on the teacher's index/mcp_server.go tool-registration shape.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nightaudit/codescanner/internal/tools"
)

// Server wraps an Executor for stdio MCP access.
type Server struct {
	executor *tools.Executor
	mcp      *server.MCPServer
}

// New builds an MCP server exposing executor's tools.
func New(executor *tools.Executor) *Server {
	s := &Server{executor: executor}

	mcpServer := server.NewMCPServer(
		"code-scanner-tools",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.registerTools(mcpServer)
	s.mcp = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("search_text",
			mcp.WithDescription("Search file contents for a text or regex pattern."),
			mcp.WithString("pattern", mcp.Required(), mcp.Description("Text or regex pattern")),
			mcp.WithBoolean("is_regex", mcp.Description("Treat pattern as a regex")),
			mcp.WithBoolean("whole_word", mcp.Description("Match whole words only")),
			mcp.WithBoolean("case_sensitive", mcp.Description("Case-sensitive match")),
			mcp.WithString("file_pattern", mcp.Description("Glob restricting which files are searched")),
			mcp.WithNumber("offset", mcp.Description("Pagination offset")),
		),
		s.forward("search_text", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{
				"pattern": r.GetString("pattern", ""), "is_regex": r.GetBool("is_regex", false),
				"whole_word": r.GetBool("whole_word", false), "case_sensitive": r.GetBool("case_sensitive", false),
				"file_pattern": r.GetString("file_pattern", ""), "offset": r.GetInt("offset", 0),
			}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("read_file",
			mcp.WithDescription("Read a file, optionally by line range."),
			mcp.WithString("path", mcp.Required()),
			mcp.WithNumber("start_line"),
			mcp.WithNumber("end_line"),
		),
		s.forward("read_file", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"path": r.GetString("path", ""), "start_line": r.GetInt("start_line", 0), "end_line": r.GetInt("end_line", 0)}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("list_directory",
			mcp.WithDescription("List files and subdirectories."),
			mcp.WithString("path", mcp.Required()),
			mcp.WithBoolean("recursive"),
			mcp.WithNumber("offset"),
		),
		s.forward("list_directory", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"path": r.GetString("path", ""), "recursive": r.GetBool("recursive", false), "offset": r.GetInt("offset", 0)}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("get_file_diff",
			mcp.WithDescription("Get the unified diff of a file against HEAD."),
			mcp.WithString("path", mcp.Required()),
			mcp.WithNumber("context_lines"),
		),
		s.forward("get_file_diff", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"path": r.GetString("path", ""), "context_lines": r.GetInt("context_lines", 3)}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("get_file_summary",
			mcp.WithDescription("Get classes, functions, imports, and constants in a file."),
			mcp.WithString("path", mcp.Required()),
		),
		s.forward("get_file_summary", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"path": r.GetString("path", "")}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("symbol_exists",
			mcp.WithDescription("Check whether a symbol exists and list its locations."),
			mcp.WithString("symbol", mcp.Required()),
			mcp.WithString("kind"),
		),
		s.forward("symbol_exists", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"symbol": r.GetString("symbol", ""), "kind": r.GetString("kind", "")}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("find_definition",
			mcp.WithDescription("Find where a symbol is defined."),
			mcp.WithString("symbol", mcp.Required()),
			mcp.WithString("kind"),
		),
		s.forward("find_definition", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"symbol": r.GetString("symbol", ""), "kind": r.GetString("kind", "")}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("find_symbols",
			mcp.WithDescription("Find symbols matching a wildcard pattern (* and ?)."),
			mcp.WithString("pattern", mcp.Required()),
			mcp.WithString("kind"),
			mcp.WithBoolean("case_sensitive"),
		),
		s.forward("find_symbols", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"pattern": r.GetString("pattern", ""), "kind": r.GetString("kind", ""), "case_sensitive": r.GetBool("case_sensitive", false)}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("get_enclosing_scope",
			mcp.WithDescription("Find the innermost symbol enclosing a line and its source."),
			mcp.WithString("path", mcp.Required()),
			mcp.WithNumber("line", mcp.Required()),
		),
		s.forward("get_enclosing_scope", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"path": r.GetString("path", ""), "line": r.GetInt("line", 0)}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("find_usages",
			mcp.WithDescription("Find references to a symbol, split into definitions and usages."),
			mcp.WithString("symbol", mcp.Required()),
			mcp.WithString("path"),
			mcp.WithBoolean("include_definitions"),
		),
		s.forward("find_usages", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{"symbol": r.GetString("symbol", ""), "path": r.GetString("path", ""), "include_definitions": r.GetBool("include_definitions", true)}
		}),
	)
}

// forward builds an MCP handler that translates typed request fields
// into the Executor's generic args map and returns its JSON Result
// envelope verbatim, so a caller sees exactly what the scan loop's
// LLM Client sees.
func (s *Server) forward(name string, buildArgs func(mcp.CallToolRequest) map[string]any) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		encoded, _ := s.executor.Invoke(ctx, name, buildArgs(request))
		return mcp.NewToolResultText(encoded), nil
	}
}

// ServeStdio runs the MCP server on stdin/stdout until the process exits.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}
