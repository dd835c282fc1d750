package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"curator/internal/etl"
	"curator/internal/service"
)

func (s *Server) registerDatasetTools() {
	s.mcp.AddTool(mcp.NewTool("ingest_dataset",
		mcp.WithDescription("Load a JSON document as the working dataset. The records array is located automatically (top-level array, then task_results/data/items/results/records, then the first array member). Replaces the current dataset."),
		mcp.WithString("json", mcp.Description("JSON document text (use either json or filePath)")),
		mcp.WithString("filePath", mcp.Description("Path of a JSON file to load")),
	), s.handleIngestDataset)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List records of the working dataset with the total count"),
		mcp.WithNumber("limit", mcp.Description("Maximum records to return (default 10)")),
		mcp.WithString("status", mcp.Description("Only records with this status, e.g. pending or error")),
	), s.handleListRecords)

	s.mcp.AddTool(mcp.NewTool("get_dataset_keys",
		mcp.WithDescription("Get key density and the display order of keys in the working dataset"),
	), s.handleGetDatasetKeys)

	s.mcp.AddTool(mcp.NewTool("list_transforms",
		mcp.WithDescription("List available record transformations"),
	), s.handleListTransforms)

	s.mcp.AddTool(mcp.NewTool("list_transform_runs",
		mcp.WithDescription("List recent transformation runs, newest first, with applied and failed counts"),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 50)")),
	), s.handleListTransformRuns)

	s.mcp.AddTool(mcp.NewTool("transform_records",
		mcp.WithDescription("Apply a transformation to the selected records (all records when ids is empty). Failed records get status=error and a transform_error field."),
		mcp.WithString("transform", mcp.Description("Transformation name, see list_transforms"), mcp.Required()),
		mcp.WithString("ids", mcp.Description(`JSON array of record ids to transform, e.g. ["a", 2]`)),
	), s.handleTransformRecords)

	s.mcp.AddTool(mcp.NewTool("export_records",
		mcp.WithDescription("Export the selected records (all when ids is empty) as a JSON file"),
		mcp.WithString("ids", mcp.Description("JSON array of record ids to export")),
		mcp.WithString("outputDir", mcp.Description("Directory to write the export into. When omitted the content is returned inline.")),
	), s.handleExportRecords)
}

func (s *Server) handleIngestDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("json", "")
	path := req.GetString("filePath", "")

	var data []byte
	switch {
	case text != "":
		data = []byte(text)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		data = b
	default:
		return nil, fmt.Errorf("json or filePath is required")
	}

	summary, err := s.datasets.Ingest(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return jsonResult(summary)
}

func (s *Server) handleListRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	limit := intArg(args, "limit", service.DefaultListLimit)
	status := req.GetString("status", "")
	return jsonResult(s.datasets.List(limit, status))
}

func (s *Server) handleGetDatasetKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.datasets.Keys())
}

func (s *Server) handleListTransforms(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(etl.ListTransforms())
}

func (s *Server) handleListTransformRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.datasets.TransformHistory(intArg(req.GetArguments(), "limit", 0))
	if err != nil {
		return nil, err
	}
	return jsonResult(runs)
}

type transformSummary struct {
	Transform string   `json:"transform"`
	Count     int      `json:"count"`
	Applied   int      `json:"applied"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func (s *Server) handleTransformRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("transform", "")
	if name == "" {
		return nil, fmt.Errorf("transform is required")
	}
	sel, err := selectionArg(req.GetArguments(), "ids")
	if err != nil {
		return nil, err
	}

	out, err := s.datasets.Transform(ctx, sel, name)
	if err != nil {
		return nil, err
	}

	summary := transformSummary{
		Transform: name,
		Count:     len(out.Records),
		Applied:   out.Applied,
		Failed:    out.Failed,
	}
	for _, res := range out.Results {
		if !res.OK() {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", res.ID(), res.Reason()))
		}
	}
	return jsonResult(summary)
}

func (s *Server) handleExportRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := selectionArg(req.GetArguments(), "ids")
	if err != nil {
		return nil, err
	}
	content, name, err := s.datasets.ExportFile(sel, time.Now())
	if err != nil {
		return nil, err
	}

	dir := req.GetString("outputDir", "")
	if dir == "" {
		return jsonResult(map[string]string{"filename": name, "file_content": string(content)})
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}
	return textResult(fmt.Sprintf("Exported to %s", path)), nil
}
