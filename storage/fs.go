package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/arkstead/keepsake/models"
	"github.com/pkg/errors"
)

// FSBlobStore implements BlobStore on a local directory. Keys map directly
// to relative paths under the base directory.
type FSBlobStore struct {
	BaseDir string
}

func NewFSBlobStore(baseDir string) *FSBlobStore {
	return &FSBlobStore{BaseDir: baseDir}
}

func (s *FSBlobStore) path(key string) string {
	return filepath.Join(s.BaseDir, filepath.FromSlash(key))
}

func (s *FSBlobStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.NewUnknown(errors.Wrapf(err, "storage: creating directory for %s", key))
	}
	f, err := os.Create(path)
	if err != nil {
		return models.NewUnknown(errors.Wrapf(err, "storage: creating %s", key))
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return models.NewUnknown(errors.Wrapf(err, "storage: writing %s", key))
	}
	return nil
}

func (s *FSBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewNotFound("No object stored at %s", key)
		}
		return nil, models.NewUnknown(errors.Wrapf(err, "storage: opening %s", key))
	}
	return f, nil
}
