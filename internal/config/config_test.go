package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, envOf(map[string]string{"CURATOR_DATA_DIR": "/tmp/curator"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "/tmp/curator", cfg.DataDir)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.HTTPCacheTTL)
	assert.False(t, cfg.MCP)
}

func TestLoadEnvOverridesFlags(t *testing.T) {
	cfg, err := load([]string{"-port", ":9000", "-mcp", "-data-dir", "/data"}, envOf(map[string]string{
		"PORT":                      "7000",
		"APP_ENV":                   "production",
		"CURATOR_DATA_DIR":          "/ignored",
		"CURATOR_TRANSFORM_WORKERS": "3",
		"CURATOR_HTTP_CACHE_TTL":    "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, time.Duration(0), cfg.HTTPCacheTTL)
	assert.True(t, cfg.MCP)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := load(nil, envOf(map[string]string{"CURATOR_DATA_DIR": "/d", "CURATOR_TRANSFORM_WORKERS": "many"}))
	assert.Error(t, err)

	_, err = load(nil, envOf(map[string]string{"CURATOR_DATA_DIR": "/d", "CURATOR_HTTP_CACHE_TTL": "soon"}))
	assert.Error(t, err)

	_, err = load([]string{"-unknown"}, envOf(nil))
	assert.Error(t, err)
}

func TestLoadCacheTTLUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30":     30 * time.Second,
		"90s":    90 * time.Second,
		"2m":     2 * time.Minute,
		"1500ms": 1500 * time.Millisecond,
	}
	for raw, want := range cases {
		cfg, err := load(nil, envOf(map[string]string{"CURATOR_DATA_DIR": "/d", "CURATOR_HTTP_CACHE_TTL": raw}))
		require.NoError(t, err, raw)
		assert.Equal(t, want, cfg.HTTPCacheTTL, raw)
	}

	_, err := load(nil, envOf(map[string]string{"CURATOR_DATA_DIR": "/d", "CURATOR_HTTP_CACHE_TTL": "-5"}))
	assert.Error(t, err)
}
