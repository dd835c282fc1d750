package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("curate_dataset",
		mcp.WithPromptDescription("Walk through loading, cleaning and exporting a text-to-SQL dataset"),
		mcp.WithArgument("filePath",
			mcp.ArgumentDescription("Path of the JSON file to curate"),
			mcp.RequiredArgument(),
		),
	), s.handleCurateDatasetPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("fine_tune_export",
		mcp.WithPromptDescription("Turn the working dataset into chat-format training examples and export them"),
		mcp.WithArgument("outputDir",
			mcp.ArgumentDescription("Directory to write the export into"),
			mcp.RequiredArgument(),
		),
	), s.handleFineTuneExportPrompt)
}

func (s *Server) handleCurateDatasetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	path := req.Params.Arguments["filePath"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Curate %s", path),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Curate the dataset in "%s". Follow these steps:

1. Load it with ingest_dataset (filePath) and report the record count
2. Use get_dataset_keys to describe which fields are present and how dense they are
3. Run normalize_sql over all records with transform_records
4. If records have bbox fields, run validate_bbox
5. List failed records with list_records (status "error") and explain each transform_error

Do not export anything yet. Summarize what changed.`, path),
				},
			},
		},
	}, nil
}

func (s *Server) handleFineTuneExportPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	dir := req.Params.Arguments["outputDir"]
	return &mcp.GetPromptResult{
		Description: "Export chat-format training data",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Prepare the working dataset for fine-tuning. Follow these steps:

1. Run normalize_sql with transform_records
2. Run openai_format so each record becomes a user/assistant messages pair
3. Check list_records with status "error"; collect the ids of records that did not fail
4. Export those ids with export_records, outputDir "%s"

Report the export path and how many records were left out.`, dir),
				},
			},
		},
	}, nil
}
