package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkstead/keepsake/models"
)

// MemoryRepository is a process-local Repository with compare-and-swap
// version semantics, used in tests and development mode. Version names
// follow the OCFL convention: v1, v2, ...
type MemoryRepository struct {
	mu     sync.Mutex
	groups map[string]*memoryGroup
}

type memoryGroup struct {
	versions []StorageMap // index 0 is v1
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{groups: make(map[string]*memoryGroup)}
}

// CreateGroup makes an empty archival group at version v1.
func (r *MemoryRepository) CreateGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[group]; !ok {
		r.groups[group] = &memoryGroup{versions: []StorageMap{{}}}
	}
}

func versionName(n int) string { return fmt.Sprintf("v%d", n) }

func (r *MemoryRepository) GetCurrentVersion(ctx context.Context, group string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[group]
	if !ok {
		return "", models.NewNotFound("No archival group at %s", group)
	}
	return versionName(len(g.versions)), nil
}

func (r *MemoryRepository) ApplyChangeSet(ctx context.Context, group, version string, changes models.ChangeSet) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[group]
	if !ok {
		return "", models.NewNotFound("No archival group at %s", group)
	}
	current := versionName(len(g.versions))
	if version != current {
		return "", models.NewConflict(
			"Version %s of %s is no longer current (current is %s)", version, group, current)
	}

	next := make(StorageMap, len(g.versions[len(g.versions)-1]))
	for k, v := range g.versions[len(g.versions)-1] {
		next[k] = v
	}
	for _, op := range changes.BinariesAdded {
		next[op.Path] = op.Digest
	}
	for _, op := range changes.BinariesPatched {
		next[op.Path] = op.Digest
	}
	for _, op := range changes.BinariesRenamed {
		if loc, ok := next[op.From]; ok {
			delete(next, op.From)
			next[op.Path] = loc
		}
	}
	for _, op := range changes.BinariesDeleted {
		delete(next, op.Path)
	}

	g.versions = append(g.versions, next)
	return versionName(len(g.versions)), nil
}

func (r *MemoryRepository) GetStorageMap(ctx context.Context, group, version string) (StorageMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[group]
	if !ok {
		return nil, models.NewNotFound("No archival group at %s", group)
	}
	idx := len(g.versions)
	if version != "" {
		var n int
		if _, err := fmt.Sscanf(version, "v%d", &n); err != nil || n < 1 || n > len(g.versions) {
			return nil, models.NewNotFound("No version %s of %s", version, group)
		}
		idx = n
	}
	snap := g.versions[idx-1]
	out := make(StorageMap, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out, nil
}
