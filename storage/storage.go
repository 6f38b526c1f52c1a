// Package storage defines the narrow interfaces the job subsystem consumes
// from the versioned repository and the blob object store.
package storage

import (
	"context"
	"io"

	"github.com/arkstead/keepsake/models"
)

// A StorageMap maps each logical path in one archival group version to its
// content-addressed location.
type StorageMap map[string]string

// Repository is the versioned, atomically-updated store of archival groups.
// Versions are immutable; every applied change set produces a new one.
type Repository interface {
	// GetCurrentVersion returns the current version of the group, or a
	// NotFound error if the group does not exist.
	GetCurrentVersion(ctx context.Context, group string) (string, error)

	// ApplyChangeSet applies changes on top of version and returns the new
	// version. Returns a Conflict error if version is no longer current:
	// the fencing check that makes out-of-order job execution safe.
	ApplyChangeSet(ctx context.Context, group, version string, changes models.ChangeSet) (string, error)

	// GetStorageMap returns the storage map for one version of the group.
	// An empty version means the current version.
	GetStorageMap(ctx context.Context, group, version string) (StorageMap, error)
}

// BlobStore is the object store holding job bodies and exported content.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get returns the object's content, or a NotFound error.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
