package dbclient

import (
	"context"
	"errors"
	"fmt"

	"curator/internal/domain"
	"curator/internal/etl"
)

// ErrWriteQuery is returned for statements that would modify the source.
// Connectors only read.
var ErrWriteQuery = errors.New("only read queries are allowed")

// QueryPage is the result of a read query: one ordered object per row.
type QueryPage struct {
	Columns []string    `json:"columns"`
	Rows    []etl.Value `json:"rows"`
	HasMore bool        `json:"hasMore"` // more rows than the limit were available
}

// JSON renders the rows as a JSON array of objects, ready for ingestion.
func (p *QueryPage) JSON() ([]byte, error) {
	return etl.Array(p.Rows...).MarshalJSON()
}

// SchemaInfo describes the tables/collections of a database.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Connector abstracts reading from an external database.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Query runs a read query and returns at most limit rows.
	Query(ctx context.Context, query string, limit int) (*QueryPage, error)

	// Introspect returns the database schema.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// Close closes the connection.
	Close() error
}

// NewConnector creates a Connector for the given database connection.
// The password must be provided separately (from SecretStore).
func NewConnector(conn *domain.DatabaseConnection, password string) (Connector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password))
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
