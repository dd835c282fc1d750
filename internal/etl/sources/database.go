package sources

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"curator/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Reads rows from an external database connection.
// Reuses the dbclient connectors through a provider interface.

const defaultDBLimit = 1000

// DBProvider abstracts how we get connector access.
// The app layer injects the database service at startup.
type DBProvider interface {
	QueryJSON(ctx context.Context, connID, query string, limit int) ([]byte, error)
}

var dbProvider DBProvider

// SetDBProvider is called by the app at startup.
func SetDBProvider(p DBProvider) { dbProvider = p }

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "connectionId", Label: "Connection", Type: "string", Required: true, Help: "ID of a saved database connection"},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "SQL statement, or a JSON find for MongoDB"},
			{Key: "limit", Label: "Row Limit", Type: "number", Required: false, Default: "1000"},
		},
	}
}

func (s *databaseSource) Fetch(ctx context.Context, cfg etl.SourceConfig) ([]byte, error) {
	connID := cfg.String("connectionId")
	query := cfg.String("query")
	if connID == "" || query == "" {
		return nil, fmt.Errorf("connectionId and query are required")
	}
	if dbProvider == nil {
		return nil, fmt.Errorf("database provider not initialized")
	}

	limit := defaultDBLimit
	if raw, ok := cfg["limit"]; ok {
		n, err := cast.ToIntE(raw)
		if err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
		if n > 0 {
			limit = n
		}
	}

	data, err := dbProvider.QueryJSON(ctx, connID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return data, nil
}
