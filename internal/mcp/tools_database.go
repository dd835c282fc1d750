package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerDatabaseTools() {
	s.mcp.AddTool(mcp.NewTool("list_db_connections",
		mcp.WithDescription("List all available database connections"),
	), s.handleListDBConnections)

	s.mcp.AddTool(mcp.NewTool("introspect_database",
		mcp.WithDescription("Get schema information (tables and columns) of a database connection"),
		mcp.WithString("connectionId", mcp.Description("Database connection ID"), mcp.Required()),
	), s.handleIntrospectDatabase)

	s.mcp.AddTool(mcp.NewTool("query_database",
		mcp.WithDescription("Run a read-only query against a database connection and return rows as JSON objects. Use the database source of an ingest job to load the rows as a dataset."),
		mcp.WithString("connectionId", mcp.Description("Database connection ID"), mcp.Required()),
		mcp.WithString("query", mcp.Description("SELECT statement, or a MongoDB find/aggregate command"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 100)")),
	), s.handleQueryDatabase)
}

func (s *Server) handleListDBConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.database.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return jsonResult(conns)
}

func (s *Server) handleIntrospectDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := req.GetString("connectionId", "")
	if connID == "" {
		return nil, fmt.Errorf("connectionId is required")
	}
	schema, err := s.database.Introspect(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return jsonResult(schema)
}

func (s *Server) handleQueryDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connID := req.GetString("connectionId", "")
	query := req.GetString("query", "")
	if connID == "" || query == "" {
		return nil, fmt.Errorf("connectionId and query are required")
	}

	page, err := s.database.Query(ctx, connID, query, intArg(args, "limit", 100))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	data, err := page.JSON()
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}
