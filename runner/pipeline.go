package runner

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/siegfried"
)

// Identifier is the format identification step of the pipeline. Satisfied by
// *siegfried.Tool.
type Identifier interface {
	Identify(ctx context.Context, root string) ([]models.FileRecord, error)
}

var _ Identifier = (*siegfried.Tool)(nil)

// PipelineRunner runs format identification over a deposit's staged files.
// Identification is read-only over the staging area, so redelivery needs no
// cached-result check; running it twice yields the same records.
type PipelineRunner struct {
	Tool   Identifier
	Logger *zap.Logger
}

func (r *PipelineRunner) Execute(ctx context.Context, job *models.Job) (*models.Snapshot, error) {
	var req models.PipelineRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return nil, models.NewValidation("pipeline %s: bad request body: %s", job.ID.String(), err)
	}
	if req.Root == "" {
		return nil, models.NewValidation("pipeline %s: staging root is required", job.ID.String())
	}

	records, err := r.Tool.Identify(ctx, req.Root)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{Files: records}
	for _, rec := range records {
		if rec.Errors != "" {
			snap.Errors = append(snap.Errors, models.Error{
				Code:    models.CodeValidation,
				Message: rec.Filename + ": " + rec.Errors,
			})
		}
	}
	r.Logger.Info("pipeline identified deposit files",
		zap.String("job_id", job.ID.String()),
		zap.String("root", req.Root),
		zap.Int("files", len(records)),
		zap.Int("file_errors", len(snap.Errors)))
	return snap, nil
}
