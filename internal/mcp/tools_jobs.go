package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"curator/internal/etl"
	"curator/internal/service"
)

func (s *Server) registerJobTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List ingest source types and their configuration fields"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("preview_source",
		mcp.WithDescription("Fetch a source and show the first records without changing the working dataset"),
		mcp.WithString("sourceType", mcp.Description("Source type, e.g. json_file, csv_file, http, database"), mcp.Required()),
		mcp.WithString("sourceConfig", mcp.Description("JSON config object for the source"), mcp.Required()),
	), s.handlePreviewSource)

	s.mcp.AddTool(mcp.NewTool("list_ingest_jobs",
		mcp.WithDescription("List saved ingest jobs with their last run status"),
	), s.handleListIngestJobs)

	s.mcp.AddTool(mcp.NewTool("create_ingest_job",
		mcp.WithDescription("Create an ingest job: a source, transformations applied in order, and an optional export directory"),
		mcp.WithString("name", mcp.Description("Job name"), mcp.Required()),
		mcp.WithString("sourceType", mcp.Description("Source type"), mcp.Required()),
		mcp.WithString("sourceConfig", mcp.Description("JSON config object for the source"), mcp.Required()),
		mcp.WithString("transforms", mcp.Description(`Transformations in order, as a JSON array or comma-separated, e.g. "normalize_sql,openai_format"`)),
		mcp.WithString("steps", mcp.Description(`Parameterized steps applied after transforms, as a JSON array, e.g. [{"type":"rename","config":{"mapping":{"q":"input_text"}}}]. Types: rename, select, type_cast`)),
		mcp.WithString("exportDir", mcp.Description("Directory to write an export after each run")),
		mcp.WithString("triggerType", mcp.Description("manual (default), schedule or file_watch")),
		mcp.WithString("triggerConfig", mcp.Description("Cron expression for schedule, file path for file_watch")),
	), s.handleCreateIngestJob)

	s.mcp.AddTool(mcp.NewTool("run_ingest_job",
		mcp.WithDescription("Run an ingest job now. Replaces the working dataset with the job's output."),
		mcp.WithString("jobId", mcp.Description("Ingest job ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunIngestJob)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.jobs.ListSources())
}

func (s *Server) handlePreviewSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceType := req.GetString("sourceType", "")
	if sourceType == "" {
		return nil, fmt.Errorf("sourceType is required")
	}
	cfg, err := sourceConfigArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	preview, err := s.jobs.PreviewSource(ctx, sourceType, cfg)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	return jsonResult(preview)
}

func (s *Server) handleListIngestJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jsonResult(jobs)
}

func (s *Server) handleCreateIngestJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cfg, err := sourceConfigArg(args)
	if err != nil {
		return nil, err
	}
	transforms, err := stringListArg(args, "transforms")
	if err != nil {
		return nil, err
	}
	steps, err := stepsArg(args)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.CreateJob(ctx, service.CreateJobInput{
		Name:          req.GetString("name", ""),
		SourceType:    req.GetString("sourceType", ""),
		SourceConfig:  cfg,
		Transforms:    transforms,
		Steps:         steps,
		ExportDir:     req.GetString("exportDir", ""),
		TriggerType:   req.GetString("triggerType", etl.TriggerManual),
		TriggerConfig: req.GetString("triggerConfig", ""),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return jsonResult(job)
}

func (s *Server) handleRunIngestJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := req.GetString("jobId", "")
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	result, err := s.jobs.RunJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("run job: %w", err)
	}
	return jsonResult(result)
}

func sourceConfigArg(args map[string]any) (etl.SourceConfig, error) {
	data, ok, err := rawJSONArg(args, "sourceConfig")
	if err != nil {
		return nil, err
	}
	cfg := etl.SourceConfig{}
	if !ok {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sourceConfig: %w", err)
	}
	return cfg, nil
}

func stepsArg(args map[string]any) ([]etl.TransformConfig, error) {
	data, ok, err := rawJSONArg(args, "steps")
	if err != nil || !ok {
		return nil, err
	}
	var steps []etl.TransformConfig
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}
	return steps, nil
}
