package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"curator/internal/dbclient"
	"curator/internal/domain"
	"curator/internal/secret"
	"curator/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Database Service: saved connections used as dataset sources
// ─────────────────────────────────────────────────────────────

// CreateDBConnInput is the service-layer DTO for creating/updating connections.
type CreateDBConnInput struct {
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SSLMode   string `json:"sslMode"`
	ExtraJSON string `json:"extraJson"`
}

func (in CreateDBConnInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !domain.DatabaseDriver(in.Driver).Valid() {
		return fmt.Errorf("unsupported driver: %q", in.Driver)
	}
	if in.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// DatabaseService manages external database connections and runs the read
// queries behind the database source. Live connectors are pooled per id.
type DatabaseService struct {
	connStore *storage.DBConnectionStore
	secrets   secret.SecretStore

	mu               sync.Mutex
	activeConnectors map[string]*connEntry
}

type connEntry struct {
	connector dbclient.Connector
	createdAt time.Time
}

// NewDatabaseService creates a DatabaseService.
func NewDatabaseService(connStore *storage.DBConnectionStore, secrets secret.SecretStore) *DatabaseService {
	return &DatabaseService{
		connStore:        connStore,
		secrets:          secrets,
		activeConnectors: make(map[string]*connEntry),
	}
}

func secretKey(connID string) string { return "db:" + connID }

// ── Connection CRUD ────────────────────────────────────────

func (s *DatabaseService) ListConnections() ([]domain.DatabaseConnection, error) {
	return s.connStore.ListConnections()
}

func (s *DatabaseService) GetConnection(id string) (*domain.DatabaseConnection, error) {
	return s.connStore.GetConnection(id)
}

func (s *DatabaseService) CreateConnection(input CreateDBConnInput) (*domain.DatabaseConnection, error) {
	if err := input.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	conn := &domain.DatabaseConnection{
		Name:      input.Name,
		Driver:    domain.DatabaseDriver(input.Driver),
		Host:      input.Host,
		Port:      input.Port,
		Database:  input.Database,
		Username:  input.Username,
		SSLMode:   input.SSLMode,
		ExtraJSON: input.ExtraJSON,
	}
	if err := s.connStore.CreateConnection(conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secretKey(conn.ID), []byte(input.Password)); err != nil {
			return nil, fmt.Errorf("store password: %w", err)
		}
	}
	return conn, nil
}

func (s *DatabaseService) UpdateConnection(id string, input CreateDBConnInput) (*domain.DatabaseConnection, error) {
	if err := input.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return nil, err
	}
	conn.Name = input.Name
	conn.Driver = domain.DatabaseDriver(input.Driver)
	conn.Host = input.Host
	conn.Port = input.Port
	conn.Database = input.Database
	conn.Username = input.Username
	conn.SSLMode = input.SSLMode
	if input.ExtraJSON != "" {
		conn.ExtraJSON = input.ExtraJSON
	}
	if err := s.connStore.UpdateConnection(conn); err != nil {
		return nil, err
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secretKey(id), []byte(input.Password)); err != nil {
			return nil, fmt.Errorf("store password: %w", err)
		}
	}
	// Next query re-connects with the new config.
	s.evict(id)
	return conn, nil
}

func (s *DatabaseService) DeleteConnection(id string) error {
	s.evict(id)
	if s.secrets != nil {
		_ = s.secrets.Delete(secretKey(id))
	}
	return s.connStore.DeleteConnection(id)
}

// ── Queries ────────────────────────────────────────────────

// Query runs a read query on a saved connection.
func (s *DatabaseService) Query(ctx context.Context, connectionID, query string, limit int) (*dbclient.QueryPage, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	page, err := connector.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return page, nil
}

// QueryJSON implements sources.DBProvider: the rows as a JSON array.
func (s *DatabaseService) QueryJSON(ctx context.Context, connectionID, query string, limit int) ([]byte, error) {
	page, err := s.Query(ctx, connectionID, query, limit)
	if err != nil {
		return nil, err
	}
	return page.JSON()
}

// ── Test + Introspect ──────────────────────────────────────

func (s *DatabaseService) TestConnection(ctx context.Context, id string) error {
	connector, err := s.getOrCreate(id)
	if err != nil {
		return err
	}
	return connector.TestConnection(ctx)
}

func (s *DatabaseService) Introspect(ctx context.Context, connectionID string) (*dbclient.SchemaInfo, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	return connector.Introspect(ctx)
}

// ── Connector Pool ─────────────────────────────────────────

func (s *DatabaseService) getOrCreate(id string) (dbclient.Connector, error) {
	s.mu.Lock()
	if e, ok := s.activeConnectors[id]; ok {
		s.mu.Unlock()
		return e.connector, nil
	}
	s.mu.Unlock()

	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}

	var password string
	if s.secrets != nil {
		if pw, err := s.secrets.Get(secretKey(id)); err == nil {
			password = string(pw)
		}
	}

	connector, err := dbclient.NewConnector(conn, password)
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have opened one meanwhile; keep the first.
	if e, ok := s.activeConnectors[id]; ok {
		_ = connector.Close()
		return e.connector, nil
	}
	s.activeConnectors[id] = &connEntry{connector: connector, createdAt: time.Now()}
	return connector, nil
}

func (s *DatabaseService) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[id]; ok {
		_ = e.connector.Close()
		delete(s.activeConnectors, id)
	}
}

// Close tears down all active database connectors.
func (s *DatabaseService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.activeConnectors {
		_ = entry.connector.Close()
		delete(s.activeConnectors, id)
	}
}
