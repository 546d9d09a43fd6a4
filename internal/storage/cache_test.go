package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/your-org/reid/internal/config"
)

func TestFileMatrixCache(t *testing.T) {
	ctx := context.Background()
	cache := NewFileMatrixCache(t.TempDir())

	got, err := cache.Load(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	m := mat.NewSymDense(2, []float64{5, 3, 3, 7})
	require.NoError(t, cache.Store(ctx, "abc", m))

	got, err = cache.Load(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, mat.Equal(m, got))

	// overwrite
	m2 := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	require.NoError(t, cache.Store(ctx, "abc", m2))
	got, err = cache.Load(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, mat.Equal(m2, got))

	entries, err := os.ReadDir(cache.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileMatrixCache_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.npy"), []byte("junk"), 0o644))

	_, err := NewFileMatrixCache(dir).Load(context.Background(), "bad")
	assert.Error(t, err)
}

func TestNewMatrixCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	c, err := NewMatrixCache(config.CacheConfig{Backend: "file", Dir: dir}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileMatrixCache{}, c)
	assert.DirExists(t, dir)

	_, err = NewMatrixCache(config.CacheConfig{Backend: "minio"}, nil)
	assert.Error(t, err)

	_, err = NewMatrixCache(config.CacheConfig{Backend: "redis"}, nil)
	assert.Error(t, err)
}

func TestJobKeys(t *testing.T) {
	id := uuid.MustParse("6f1c1d8e-4b0a-4c55-9a3e-0c7b3a2f9d10")

	assert.Equal(t, "jobs/6f1c1d8e-4b0a-4c55-9a3e-0c7b3a2f9d10/input.npy", JobInputKey(id))
	assert.Equal(t, "jobs/6f1c1d8e-4b0a-4c55-9a3e-0c7b3a2f9d10/output.npy", JobOutputKey(id))
}
