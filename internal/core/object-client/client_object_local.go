package objectclient

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/markdave123-py/lawgpt/internal/core"
)

// LocalClient stores blobs under a root directory on disk.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) (*LocalClient, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve upload dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &LocalClient{root: abs}, nil
}

// path maps a key to a file below root, refusing keys that escape it.
func (c *LocalClient) path(key string) (string, error) {
	p := filepath.Join(c.root, filepath.FromSlash(key))
	if p == c.root || !strings.HasPrefix(p, c.root+string(os.PathSeparator)) {
		return "", errors.Wrapf(core.ErrInvalidInput, "bad object key %q", key)
	}
	return p, nil
}

func (c *LocalClient) UploadFile(_ context.Context, key string, data io.Reader, _ int64, _ string) (string, error) {
	p, err := c.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "create object dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "write object")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "close object")
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "commit object")
	}
	return "/" + filepath.ToSlash(key), nil
}

func (c *LocalClient) GetObjectReader(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := c.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "open object")
	}
	return f, nil
}

func (c *LocalClient) DeleteFile(_ context.Context, key string) error {
	p, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove object")
	}
	return nil
}

var _ core.ObjectClient = (*LocalClient)(nil)
