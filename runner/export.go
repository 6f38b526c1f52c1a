package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Shyp/go-types"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/storage"
)

// ExportRunner streams one version of an archival group out of the blob
// store to a destination prefix, tracking the run in the export log.
type ExportRunner struct {
	Repo   storage.Repository
	Blobs  storage.BlobStore
	Log    ExportLog
	Logger *zap.Logger
}

// exportID derives the export log identifier from the job identifier, so a
// redelivered job always finds the run a previous delivery started.
func exportID(job *models.Job) types.PrefixUUID {
	return types.PrefixUUID{Prefix: models.ExportIDPrefix, UUID: job.ID.UUID}
}

func (r *ExportRunner) Execute(ctx context.Context, job *models.Job) (*models.Snapshot, error) {
	var req models.ExportRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return nil, models.NewValidation("export %s: bad request body: %s", job.ID.String(), err)
	}
	if req.ArchivalGroup == "" {
		return nil, models.NewValidation("export %s: archival group is required", job.ID.String())
	}
	if req.Destination == "" {
		return nil, models.NewValidation("export %s: destination is required", job.ID.String())
	}

	version := req.Version
	if version == "" {
		current, err := r.Repo.GetCurrentVersion(ctx, req.ArchivalGroup)
		if err != nil {
			return nil, err
		}
		version = current
	}

	id := exportID(job)
	if _, err := r.Log.Create(id, req.ArchivalGroup, req.Destination, version); err != nil {
		terr := models.Classify(err)
		if terr.Code != models.CodeConflict {
			return nil, terr
		}
		// The run already exists. If it finished, a previous delivery
		// did the work; return its result instead of exporting twice.
		prev, gerr := r.Log.Get(id)
		if gerr == nil && prev.DateFinished.Valid {
			r.Logger.Info("export already finished, returning recorded result",
				zap.String("job_id", job.ID.String()),
				zap.String("export_id", id.String()))
			return snapshotFromExport(prev)
		}
	}

	smap, err := r.Repo.GetStorageMap(ctx, req.ArchivalGroup, version)
	if err != nil {
		return nil, err
	}

	copied := 0
	for _, path := range sortedPaths(smap) {
		if err := r.copyOne(ctx, smap[path], req.Destination, path); err != nil {
			return nil, err
		}
		copied++
	}

	snap := &models.Snapshot{
		NewVersion:  version,
		Destination: req.Destination,
		Counts:      models.ResultCounts{BinariesAdded: copied},
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, models.NewUnknown(err)
	}
	if _, err := r.Log.Finish(id, body); err != nil {
		terr := models.Classify(err)
		if terr.Code != models.CodeConflict {
			return nil, terr
		}
		// Finished by a concurrent delivery between our create check
		// and now. The content is already at the destination either
		// way.
	}
	r.Logger.Info("export finished",
		zap.String("job_id", job.ID.String()),
		zap.String("archival_group", req.ArchivalGroup),
		zap.String("version", version),
		zap.Int("files", copied))
	return snap, nil
}

func (r *ExportRunner) copyOne(ctx context.Context, key, destination, path string) error {
	body, err := r.Blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	return r.Blobs.Put(ctx, fmt.Sprintf("%s/%s", destination, path), body, "")
}

func sortedPaths(smap storage.StorageMap) []string {
	paths := make([]string, 0, len(smap))
	for p := range smap {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func snapshotFromExport(er *models.ExportResult) (*models.Snapshot, error) {
	var snap models.Snapshot
	if len(er.Result) > 0 {
		if err := json.Unmarshal(er.Result, &snap); err != nil {
			return nil, models.NewUnknown(err)
		}
	}
	snap.NewVersion = er.Version
	snap.Destination = er.Destination
	return &snap, nil
}
