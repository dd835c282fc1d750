package dbclient

import (
	"curator/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector opens an external SQLite file read-only with a busy
// timeout, so a dataset pull never locks out the file's owner.
func newSQLiteConnector(conn *domain.DatabaseConnection) (*sqlConnector, error) {
	dsn := "file:" + conn.Host + "?mode=ro&_pragma=busy_timeout(5000)"
	return newSQLConnector("sqlite", dsn)
}
