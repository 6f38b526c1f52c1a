package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/minter"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/exports"
	"github.com/arkstead/keepsake/queue"
)

// An ExportCounter reports how many export runs for a group are still
// unfinished. Satisfied by DBExportCounter.
type ExportCounter interface {
	CountUnfinished(group string) (int, error)
}

type DBExportCounter struct{}

func (DBExportCounter) CountUnfinished(group string) (int, error) {
	return exports.CountUnfinished(group)
}

// A Submitter accepts job submissions: it validates the request body, mints
// an identifier, persists the job as waiting and enqueues the identifier.
type Submitter struct {
	Store   JobStore
	Mint    minter.Minter
	Queue   queue.Queue
	Exports ExportCounter
	Logger  *zap.Logger
}

// Submit persists and enqueues one job. The row is written before the
// message: a row whose enqueue failed is inert and visible (and loudly
// logged), whereas a message without a row could never be executed.
func (s *Submitter) Submit(ctx context.Context, depositID string, kind models.JobKind, body json.RawMessage) (*models.Job, error) {
	if depositID == "" {
		return nil, models.NewValidation("A deposit id is required")
	}
	if !kind.Valid() {
		return nil, models.NewValidation("Unknown job kind %q", kind)
	}
	group, err := s.validate(kind, body)
	if err != nil {
		return nil, err
	}

	id, err := s.Mint.MintIdentity("job", "")
	if err != nil {
		return nil, models.NewUnknown(err)
	}
	job := &models.Job{
		ID:            id,
		DepositID:     depositID,
		Kind:          kind,
		ArchivalGroup: group,
		Status:        models.StatusWaiting,
		DateSubmitted: time.Now().UTC(),
		Request:       body,
	}
	created, err := s.Store.Create(job)
	if err != nil {
		return nil, err
	}

	if err := s.Queue.QueueRequest(ctx, kind, created.ID.String()); err != nil {
		// The row exists but no message does, so no executor will ever
		// pick it up. Callers get the error; the job id in the log is
		// what ops needs to re-enqueue it.
		s.Logger.Error("job persisted but enqueue failed",
			zap.String("job_id", created.ID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return created, models.Classify(err)
	}
	go metrics.Increment(fmt.Sprintf("jobs.submitted.%s", kind))
	s.Logger.Info("job submitted",
		zap.String("job_id", created.ID.String()),
		zap.String("deposit_id", depositID),
		zap.String("kind", string(kind)))
	return created, nil
}

// validate checks the kind-specific request body and returns the archival
// group it names. Exports are additionally refused while another export of
// the same group is unfinished.
func (s *Submitter) validate(kind models.JobKind, body json.RawMessage) (string, error) {
	switch kind {
	case models.KindImport:
		var req models.ImportRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", models.NewValidation("Invalid import request body: %s", err)
		}
		if req.ArchivalGroup == "" {
			return "", models.NewValidation("An archival group is required")
		}
		if req.SourceVersion == "" {
			return "", models.NewValidation("A source version is required")
		}
		if req.Changes.Empty() {
			return "", models.NewValidation("The change set is empty")
		}
		return req.ArchivalGroup, nil
	case models.KindExport:
		var req models.ExportRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", models.NewValidation("Invalid export request body: %s", err)
		}
		if req.ArchivalGroup == "" {
			return "", models.NewValidation("An archival group is required")
		}
		if req.Destination == "" {
			return "", models.NewValidation("A destination is required")
		}
		n, err := s.Exports.CountUnfinished(req.ArchivalGroup)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return "", models.NewConflict(
				"An export of %s is already in progress", req.ArchivalGroup)
		}
		return req.ArchivalGroup, nil
	case models.KindPipeline:
		var req models.PipelineRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", models.NewValidation("Invalid pipeline request body: %s", err)
		}
		if req.Root == "" {
			return "", models.NewValidation("A staging root is required")
		}
		return req.ArchivalGroup, nil
	}
	return "", models.NewValidation("Unknown job kind %q", kind)
}
