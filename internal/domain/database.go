package domain

import "time"

// DatabaseDriver names the engine behind a saved connection.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

var defaultPorts = map[DatabaseDriver]int{
	DatabaseDriverMySQL:    3306,
	DatabaseDriverPostgres: 5432,
	DatabaseDriverMongoDB:  27017,
	DatabaseDriverSQLite:   0,
}

func (d DatabaseDriver) Valid() bool {
	_, ok := defaultPorts[d]
	return ok
}

// DefaultPort is the port dialed when a connection leaves Port at zero.
func (d DatabaseDriver) DefaultPort() int {
	return defaultPorts[d]
}

// DatabaseConnection describes where a "database" source pulls records
// from. For sqlite, Host is the file path and Port/Database are unused.
// Passwords are kept in the secret store under "db:<ID>".
type DatabaseConnection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Driver    DatabaseDriver `json:"driver"`
	Host      string         `json:"host"`
	Port      int            `json:"port"`
	Database  string         `json:"database"`
	Username  string         `json:"username"`
	SSLMode   string         `json:"sslMode"`
	ExtraJSON string         `json:"extraJson"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type DatabaseConnectionStore interface {
	CreateConnection(c *DatabaseConnection) error
	GetConnection(id string) (*DatabaseConnection, error)
	ListConnections() ([]DatabaseConnection, error)
	UpdateConnection(c *DatabaseConnection) error
	DeleteConnection(id string) error
}
