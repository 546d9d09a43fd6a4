package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/your-org/reid/internal/arrays"
	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/config"
)

// NewMatrixCache returns the co-occurrence cache selected by cfg.Backend.
// store is only used, and then required, for the "minio" backend.
func NewMatrixCache(cfg config.CacheConfig, store *MinIOStore) (cluster.MatrixCache, error) {
	switch cfg.Backend {
	case "minio":
		if store == nil {
			return nil, errors.New("minio cache backend needs an object store")
		}
		return NewMinIOMatrixCache(store, cfg.Prefix), nil
	case "", "file":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		return NewFileMatrixCache(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// FileMatrixCache keeps co-occurrence matrices as <Dir>/<key>.npy.
type FileMatrixCache struct {
	Dir string
}

func NewFileMatrixCache(dir string) *FileMatrixCache {
	return &FileMatrixCache{Dir: dir}
}

func (c *FileMatrixCache) path(key string) string {
	return filepath.Join(c.Dir, key+".npy")
}

// Load returns nil, nil when no matrix is cached under key.
func (c *FileMatrixCache) Load(_ context.Context, key string) (*mat.SymDense, error) {
	f, err := os.Open(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open cached matrix: %w", err)
	}
	defer f.Close()
	return arrays.DecodeMatrix(bufio.NewReader(f))
}

// Store writes the matrix through a temporary file so readers never see a
// partial one.
func (c *FileMatrixCache) Store(_ context.Context, key string, m *mat.SymDense) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.Dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := arrays.EncodeMatrix(bw, m); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	return os.Rename(tmp.Name(), c.path(key))
}

// MinIOMatrixCache keeps co-occurrence matrices as <Prefix><key>.npy objects.
type MinIOMatrixCache struct {
	store  *MinIOStore
	prefix string
}

func NewMinIOMatrixCache(store *MinIOStore, prefix string) *MinIOMatrixCache {
	return &MinIOMatrixCache{store: store, prefix: prefix}
}

func (c *MinIOMatrixCache) Load(ctx context.Context, key string) (*mat.SymDense, error) {
	objKey := c.prefix + key + ".npy"
	data, err := c.store.GetObject(ctx, objKey)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return arrays.DecodeMatrix(bytes.NewReader(data))
}

func (c *MinIOMatrixCache) Store(ctx context.Context, key string, m *mat.SymDense) error {
	var buf bytes.Buffer
	if err := arrays.EncodeMatrix(&buf, m); err != nil {
		return err
	}
	return c.store.PutObject(ctx, c.prefix+key+".npy", buf.Bytes(), NPYContentType)
}
