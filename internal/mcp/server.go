package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"curator/internal/service"
)

// Server is the MCP server for curator.
// It exposes tools, resources, and prompts so AI agents can ingest, inspect,
// transform and export the session's dataset.
type Server struct {
	mcp *server.MCPServer

	// Services (injected from app layer)
	datasets *service.DatasetService
	jobs     *service.JobService
	database *service.DatabaseService
}

// Deps holds all dependencies passed from the App layer to the MCP server.
type Deps struct {
	Datasets *service.DatasetService
	Jobs     *service.JobService
	Database *service.DatabaseService
	Version  string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		datasets: deps.Datasets,
		jobs:     deps.Jobs,
		database: deps.Database,
	}

	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s.mcp = server.NewMCPServer(
		"curator-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerDatasetTools()
	if s.jobs != nil {
		s.registerJobTools()
	}
	if s.database != nil {
		s.registerDatabaseTools()
	}
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCP returns the underlying server, e.g. for in-process clients.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio starts the MCP server on stdin/stdout and returns when ctx ends
// or the input stream closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	log.Println("mcp: starting stdio server")
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, stdinReader(), stdoutWriter())
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func boolPtr(v bool) *bool { return &v }
