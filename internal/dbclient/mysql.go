package dbclient

import (
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"curator/internal/domain"
)

// buildMySQLDSN constructs a MySQL DSN. ParseTime makes DATETIME columns
// arrive as time.Time so they export as RFC 3339 strings.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = domain.DatabaseDriverMySQL.DefaultPort()
	}
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(port))
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if conn.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}
