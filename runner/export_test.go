package runner

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shyp/go-types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/storage"
	"github.com/arkstead/keepsake/test/factory"
)

type memExportLog struct {
	mu   sync.Mutex
	rows map[string]*models.ExportResult
}

func newMemExportLog() *memExportLog {
	return &memExportLog{rows: make(map[string]*models.ExportResult)}
}

func (l *memExportLog) Create(id types.PrefixUUID, group, destination, version string) (*models.ExportResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[id.String()]; ok {
		return nil, models.NewConflict("An export run with id %s already exists", id.String())
	}
	er := &models.ExportResult{
		ID:            id,
		ArchivalGroup: group,
		Destination:   destination,
		Version:       version,
		DateBegun:     time.Now().UTC(),
	}
	l.rows[id.String()] = er
	return er, nil
}

func (l *memExportLog) Get(id types.PrefixUUID) (*models.ExportResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	er, ok := l.rows[id.String()]
	if !ok {
		return nil, models.NewNotFound("No export run with id %s", id.String())
	}
	return er, nil
}

func (l *memExportLog) Finish(id types.PrefixUUID, result json.RawMessage) (*models.ExportResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	er, ok := l.rows[id.String()]
	if !ok {
		return nil, models.NewNotFound("No export run with id %s", id.String())
	}
	if er.DateFinished.Valid {
		return nil, models.NewConflict("Export run %s is already finished", id.String())
	}
	er.DateFinished = types.NullTime{Valid: true, Time: time.Now().UTC()}
	er.Result = result
	return er, nil
}

func newExportRunner(t *testing.T) (*ExportRunner, *storage.MemoryRepository, *memExportLog) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	repo.CreateGroup(testGroup)
	log := newMemExportLog()
	blobs := storage.NewFSBlobStore(t.TempDir())
	return &ExportRunner{Repo: repo, Blobs: blobs, Log: log, Logger: zap.NewNop()}, repo, log
}

func stage(t *testing.T, r *ExportRunner, repo *storage.MemoryRepository, files map[string]string) {
	t.Helper()
	var changes models.ChangeSet
	for path, content := range files {
		key := "blobs/" + path
		require.NoError(t, r.Blobs.Put(context.Background(), key, strings.NewReader(content), ""))
		changes.BinariesAdded = append(changes.BinariesAdded, models.BinaryOp{Path: path, Digest: key})
	}
	_, err := repo.ApplyChangeSet(context.Background(), testGroup, "v1", changes)
	require.NoError(t, err)
}

func TestExportStreamsCurrentVersion(t *testing.T) {
	r, repo, log := newExportRunner(t)
	stage(t, r, repo, map[string]string{
		"objects/METS.xml": "<mets/>",
		"objects/0001.tif": "tiff bytes",
	})

	job := factory.Job(models.KindExport, models.ExportRequest{
		ArchivalGroup: testGroup,
		Destination:   "exports/run-1",
	})
	snap, err := r.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "v2", snap.NewVersion)
	assert.Equal(t, "exports/run-1", snap.Destination)
	assert.Equal(t, 2, snap.Counts.BinariesAdded)

	body, err := r.Blobs.Get(context.Background(), "exports/run-1/objects/METS.xml")
	require.NoError(t, err)
	defer body.Close()
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "<mets/>", string(content))

	er, err := log.Get(exportID(job))
	require.NoError(t, err)
	assert.True(t, er.DateFinished.Valid)
	assert.Equal(t, testGroup, er.ArchivalGroup)
}

func TestExportRedeliveryReturnsRecordedResult(t *testing.T) {
	r, _, log := newExportRunner(t)
	job := factory.Job(models.KindExport, models.ExportRequest{
		ArchivalGroup: testGroup,
		Destination:   "exports/run-1",
	})

	// A previous delivery already finished this run. No blobs are staged,
	// so any attempt to copy again would fail.
	id := exportID(job)
	_, err := log.Create(id, testGroup, "exports/run-1", "v1")
	require.NoError(t, err)
	recorded, err := json.Marshal(models.Snapshot{
		Counts: models.ResultCounts{BinariesAdded: 7},
	})
	require.NoError(t, err)
	_, err = log.Finish(id, recorded)
	require.NoError(t, err)

	snap, err := r.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Counts.BinariesAdded)
	assert.Equal(t, "exports/run-1", snap.Destination)
}

func TestExportValidation(t *testing.T) {
	r, _, _ := newExportRunner(t)

	job := factory.Job(models.KindExport, models.ExportRequest{ArchivalGroup: testGroup})
	_, err := r.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)

	job = factory.Job(models.KindExport, models.ExportRequest{Destination: "exports/run-1"})
	_, err = r.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)
}

func TestExportUnknownGroup(t *testing.T) {
	r, _, _ := newExportRunner(t)
	job := factory.Job(models.KindExport, models.ExportRequest{
		ArchivalGroup: "https://storage.example.org/groups/missing",
		Destination:   "exports/run-1",
	})
	_, err := r.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.Classify(err).Code)
}
