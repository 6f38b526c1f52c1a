package runner

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/storage"
)

// ImportRunner applies a submitted change set to an archival group, advancing
// it to a new version, and records the advance in the event ledger.
type ImportRunner struct {
	Repo   storage.Repository
	Ledger Ledger
	Logger *zap.Logger
}

func (r *ImportRunner) Execute(ctx context.Context, job *models.Job) (*models.Snapshot, error) {
	var req models.ImportRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return nil, models.NewValidation("import %s: bad request body: %s", job.ID.String(), err)
	}
	if req.ArchivalGroup == "" {
		return nil, models.NewValidation("import %s: archival group is required", job.ID.String())
	}
	if req.Changes.Empty() {
		return nil, models.NewValidation("import %s: change set is empty", job.ID.String())
	}

	// A redelivered job may have done its work already. The previous
	// delivery's snapshot is still on the row; if it names a version the
	// repository has, the apply succeeded and only the acknowledge was
	// lost.
	if cached := r.cachedSnapshot(ctx, job, &req); cached != nil {
		r.Logger.Info("import already applied, returning cached result",
			zap.String("job_id", job.ID.String()),
			zap.String("archival_group", req.ArchivalGroup),
			zap.String("new_version", cached.NewVersion))
		return cached, nil
	}

	newVersion, err := r.Repo.ApplyChangeSet(ctx, req.ArchivalGroup, req.SourceVersion, req.Changes)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		NewVersion: newVersion,
		Counts:     countChanges(req.Changes),
	}

	if _, err := r.Ledger.Append(req.ArchivalGroup, req.SourceVersion, newVersion, false, job.ID); err != nil {
		// The version is applied but unrecorded. Surface loudly; the
		// job row stays authoritative for the advance even if this
		// delivery is not acknowledged.
		r.Logger.Error("version applied but ledger append failed",
			zap.String("job_id", job.ID.String()),
			zap.String("archival_group", req.ArchivalGroup),
			zap.String("new_version", newVersion),
			zap.Error(err))
		// The partial snapshot is returned so the caller can persist
		// it with the requeue; the redelivery then recognizes the
		// applied version instead of hitting a version conflict.
		return snap, models.Classify(err)
	}

	return snap, nil
}

// cachedSnapshot reports the previous delivery's snapshot if it shows the
// change set was already applied, nil otherwise.
func (r *ImportRunner) cachedSnapshot(ctx context.Context, job *models.Job, req *models.ImportRequest) *models.Snapshot {
	if len(job.Result) == 0 {
		return nil
	}
	var snap models.Snapshot
	if err := json.Unmarshal(job.Result, &snap); err != nil || snap.NewVersion == "" {
		return nil
	}
	current, err := r.Repo.GetCurrentVersion(ctx, req.ArchivalGroup)
	if err != nil || current != snap.NewVersion {
		return nil
	}
	return &snap
}

func countChanges(c models.ChangeSet) models.ResultCounts {
	return models.ResultCounts{
		ContainersAdded:   len(c.ContainersAdded),
		ContainersDeleted: len(c.ContainersDeleted),
		BinariesAdded:     len(c.BinariesAdded),
		BinariesDeleted:   len(c.BinariesDeleted),
		BinariesRenamed:   len(c.BinariesRenamed),
		BinariesPatched:   len(c.BinariesPatched),
	}
}
