package objectclient

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	cfg "github.com/markdave123-py/lawgpt/internal/config"
	"github.com/markdave123-py/lawgpt/internal/core"
)

// New returns the blob store selected by STORAGE_BACKEND.
func New(ctx context.Context, c *cfg.Config) (core.ObjectClient, error) {
	switch c.StorageBackend {
	case cfg.StorageS3:
		return NewS3Client(ctx, c)
	case cfg.StorageLocal:
		return NewLocalClient(c.UploadDir)
	default:
		return nil, errors.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
}

// MemoryClient keeps blobs in a map. Used by tests.
type MemoryClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: map[string][]byte{}}
}

func (c *MemoryClient) UploadFile(_ context.Context, key string, data io.Reader, _ int64, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", errors.Wrap(err, "read upload")
	}
	c.mu.Lock()
	c.objects[key] = b
	c.mu.Unlock()
	return "mem://" + key, nil
}

func (c *MemoryClient) GetObjectReader(_ context.Context, key string) (io.ReadCloser, error) {
	c.mu.Lock()
	b, ok := c.objects[key]
	c.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (c *MemoryClient) DeleteFile(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.objects, key)
	c.mu.Unlock()
	return nil
}

// Len reports how many objects are stored.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

var _ core.ObjectClient = (*MemoryClient)(nil)
