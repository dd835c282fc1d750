package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"curator/internal/api"
	"curator/internal/config"
	"curator/internal/etl"
	"curator/internal/etl/sources"
	mcpserver "curator/internal/mcp"
	"curator/internal/secret"
	"curator/internal/service"
	"curator/internal/storage"
)

const (
	httpCacheSize   = 64
	shutdownTimeout = 15 * time.Second
)

// Version is stamped at build time.
var Version = "dev"

// App owns storage and the services built on top of it.
type App struct {
	cfg *config.Config
	db  *storage.DB

	Datasets *service.DatasetService
	Jobs     *service.JobService
	Database *service.DatabaseService
}

// New opens storage under cfg.DataDir and builds every service.
func New(cfg *config.Config) (*App, error) {
	db, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	emitter := service.LogEmitter{}
	engine := etl.NewEngine(cfg.Workers)

	datasets := service.NewDatasetService(engine, storage.NewTransformRunStore(db), emitter)
	database := service.NewDatabaseService(storage.NewDBConnectionStore(db), secret.NewEnvStore())
	jobs := service.NewJobService(storage.NewJobStore(db), datasets, engine, emitter)

	// The database source reads through the connection pool.
	sources.SetDBProvider(database)
	sources.ConfigureHTTPCache(httpCacheSize, cfg.HTTPCacheTTL)

	log.Printf("app: data dir %s, %d transform workers (%s)", cfg.DataDir, engine.Workers, cfg.Env)
	return &App{
		cfg:      cfg,
		db:       db,
		Datasets: datasets,
		Jobs:     jobs,
		Database: database,
	}, nil
}

// Handler returns the HTTP API handler.
func (a *App) Handler() *api.Handler {
	return api.NewHandler(a.Datasets, a.Jobs, a.Database)
}

// Run serves the HTTP API and the job triggers until ctx ends, then shuts
// down: stop accepting requests, stop triggers, wait for running jobs.
func (a *App) Run(ctx context.Context) error {
	a.Jobs.Start(ctx)

	srv := api.New(a.cfg.Port, a.Handler().Routes())
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		a.Jobs.Stop()
		return err
	case <-ctx.Done():
	}

	log.Println("app: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	a.Jobs.Stop()
	a.Jobs.WaitRunning(shutdownCtx)
	return err
}

// ServeMCP serves the MCP tools on stdio until ctx ends or stdin closes.
func (a *App) ServeMCP(ctx context.Context) error {
	a.Jobs.Start(ctx)
	defer a.Jobs.Stop()

	srv := mcpserver.New(mcpserver.Deps{
		Datasets: a.Datasets,
		Jobs:     a.Jobs,
		Database: a.Database,
		Version:  Version,
	})
	return srv.ServeStdio(ctx)
}

// Close releases database connectors and storage.
func (a *App) Close() error {
	a.Database.Close()
	return a.db.Close()
}
