package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/domain"
)

// DBConnectionStore persists the databases that "database" sources read
// from. Credentials are not stored here.
type DBConnectionStore struct {
	db *DB
}

func NewDBConnectionStore(db *DB) *DBConnectionStore {
	return &DBConnectionStore{db: db}
}

const connectionColumns = `id, name, driver, host, port, database_name, username,
	ssl_mode, extra_json, created_at, updated_at`

func scanConnection(row rowScanner) (*domain.DatabaseConnection, error) {
	var c domain.DatabaseConnection
	if err := row.Scan(
		&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username,
		&c.SSLMode, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *DBConnectionStore) CreateConnection(c *domain.DatabaseConnection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.ExtraJSON == "" {
		c.ExtraJSON = "{}"
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := s.db.conn.Exec(
		`INSERT INTO db_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username,
		c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert database connection: %w", err)
	}
	return nil
}

func (s *DBConnectionStore) GetConnection(id string) (*domain.DatabaseConnection, error) {
	c, err := scanConnection(s.db.conn.QueryRow(`SELECT `+connectionColumns+` FROM db_connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database connection %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ListConnections returns every saved connection sorted by name.
func (s *DBConnectionStore) ListConnections() ([]domain.DatabaseConnection, error) {
	rows, err := s.db.conn.Query(`SELECT ` + connectionColumns + ` FROM db_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DatabaseConnection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *DBConnectionStore) UpdateConnection(c *domain.DatabaseConnection) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.conn.Exec(
		`UPDATE db_connections SET name=?, driver=?, host=?, port=?, database_name=?, username=?,
		 ssl_mode=?, extra_json=?, updated_at=? WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username,
		c.SSLMode, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "database connection", c.ID)
}

func (s *DBConnectionStore) DeleteConnection(id string) error {
	res, err := s.db.conn.Exec(`DELETE FROM db_connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "database connection", id)
}
