package sources

import (
	"context"
	"fmt"
	"os"

	"curator/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads a JSON document from a local file.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Absolute path to the JSON file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dot-separated path to the records (e.g., 'export.rows'). Leave empty to let the locator find them."},
		},
	}
}

func (s *jsonFileSource) Fetch(ctx context.Context, cfg etl.SourceConfig) ([]byte, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return navigatePath(data, cfg.String("dataPath"))
}
