package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	defaultPort         = ":8080"
	defaultHTTPCacheTTL = 30 * time.Second
)

type Config struct {
	Port string
	Env  string
	// DataDir holds curator.db.
	DataDir string
	// Workers bounds parallel transforms per batch.
	Workers int
	// HTTPCacheTTL is how long http source responses are reused. Zero disables the cache.
	HTTPCacheTTL time.Duration
	// MCP serves the MCP tool surface on stdio instead of HTTP.
	MCP bool
}

// Load reads .env, then flags from args, then environment overrides.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	fs := flag.NewFlagSet("curator", flag.ContinueOnError)
	port := fs.String("port", defaultPort, "server port")
	dataDir := fs.String("data-dir", "", "directory for curator.db")
	mcp := fs.Bool("mcp", false, "serve MCP on stdio instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := strings.TrimSpace(getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := firstNonEmpty(strings.TrimSpace(getenv("APP_ENV")), "local")

	dir := firstNonEmpty(*dataDir, strings.TrimSpace(getenv("CURATOR_DATA_DIR")))
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(homeDir, ".local", "share", "curator")
	}

	workers := runtime.NumCPU()
	if raw := strings.TrimSpace(getenv("CURATOR_TRANSFORM_WORKERS")); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CURATOR_TRANSFORM_WORKERS: invalid value %q", raw)
		}
		workers = n
	}

	cacheTTL := defaultHTTPCacheTTL
	if raw := strings.TrimSpace(getenv("CURATOR_HTTP_CACHE_TTL")); raw != "" {
		d, err := parseTTL(raw)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("CURATOR_HTTP_CACHE_TTL: invalid duration %q", raw)
		}
		cacheTTL = d
	}

	return &Config{
		Port:         *port,
		Env:          env,
		DataDir:      dir,
		Workers:      workers,
		HTTPCacheTTL: cacheTTL,
		MCP:          *mcp,
	}, nil
}

// parseTTL reads a Go duration ("90s", "2m"); a bare integer counts seconds.
func parseTTL(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return cast.ToDurationE(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
