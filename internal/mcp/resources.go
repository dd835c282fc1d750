package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"curator/internal/etl"
)

const (
	uriDatasetKeys    = "curator://dataset/keys"
	uriDatasetRecords = "curator://dataset/records"
	uriTransforms     = "curator://transforms"
)

func (s *Server) registerResources() {
	// ── curator://dataset/keys ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		uriDatasetKeys,
		"Dataset Keys",
		mcp.WithResourceDescription("Key density and display order of the working dataset"),
		mcp.WithMIMEType("application/json"),
	), s.handleDatasetKeysResource)

	// ── curator://dataset/records ──────────────────────
	s.mcp.AddResource(mcp.NewResource(
		uriDatasetRecords,
		"Dataset Records",
		mcp.WithResourceDescription("The full working dataset as it would be exported"),
		mcp.WithMIMEType("application/json"),
	), s.handleDatasetRecordsResource)

	// ── curator://transforms ───────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		uriTransforms,
		"Transformations",
		mcp.WithMIMEType("application/json"),
	), s.handleTransformsResource)
}

func (s *Server) handleDatasetKeysResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(s.datasets.Keys(), "", "  ")
	if err != nil {
		return nil, err
	}
	return jsonContents(uriDatasetKeys, data), nil
}

func (s *Server) handleDatasetRecordsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := etl.MarshalRecords(s.datasets.Snapshot(), etl.ExportIndent)
	if err != nil {
		return nil, err
	}
	return jsonContents(uriDatasetRecords, data), nil
}

func (s *Server) handleTransformsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(etl.ListTransforms(), "", "  ")
	if err != nil {
		return nil, err
	}
	return jsonContents(uriTransforms, data), nil
}

func jsonContents(uri string, data []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
