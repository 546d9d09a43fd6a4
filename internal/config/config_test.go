package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  host: db
  name: reid
  user: u
  password: p
clustering:
  max_common_frames: 3
  accept_non_converged: false
cache:
  mode: refresh
  backend: minio
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/reid?sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, 3, cfg.Clustering.MaxCommonFrames)
	assert.False(t, cfg.Clustering.AcceptsNonConverged())
	assert.Equal(t, "refresh", cfg.Cache.Mode)
	assert.Equal(t, "minio", cfg.Cache.Backend)

	// defaults
	assert.Equal(t, 10, cfg.Clustering.MinTrackLength)
	assert.Equal(t, 300, cfg.Clustering.MaxIterations)
	assert.Equal(t, "cooccurrence/", cfg.Cache.Prefix)
	assert.Equal(t, 8082, cfg.Worker.MetricsPort)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("REID_SERVER_PORT", "7000")
	t.Setenv("REID_MAX_COMMON_FRAMES", "5")
	t.Setenv("REID_CACHE_MODE", "off")
	t.Setenv("REID_WORKER_COUNT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Clustering.MaxCommonFrames)
	assert.Equal(t, "off", cfg.Cache.Mode)
	assert.Equal(t, 1, cfg.Worker.Count)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "reuse", cfg.Cache.Mode)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.True(t, cfg.Clustering.AcceptsNonConverged())
}
