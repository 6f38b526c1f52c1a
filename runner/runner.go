// Package runner holds the per-kind job execution logic. A Runner is handed
// a job row whose status is already running and produces the result snapshot
// to persist; it never touches job state itself.
package runner

import (
	"context"
	"encoding/json"

	"github.com/Shyp/go-types"

	"github.com/arkstead/keepsake/models"
)

// A Runner executes one kind of job. Execute must be idempotent: the queue
// delivers at least once, so a runner may see work a previous delivery
// already performed and must detect that instead of repeating it.
//
// On a retryable failure Execute may return a partial snapshot alongside the
// error; callers persist it with the requeue so the next delivery can see
// what was already done.
type Runner interface {
	Execute(ctx context.Context, job *models.Job) (*models.Snapshot, error)
}

// A Set dispatches jobs to the runner registered for their kind.
type Set map[models.JobKind]Runner

func (s Set) For(kind models.JobKind) (Runner, error) {
	r, ok := s[kind]
	if !ok {
		return nil, models.NewValidation("no runner registered for job kind %q", kind)
	}
	return r, nil
}

// A Ledger records every version advance and deletion of an archival group.
type Ledger interface {
	Append(group, fromVersion, toVersion string, deleted bool, importJobID types.PrefixUUID) (*models.ArchivalGroupEvent, error)
}

// An ExportLog tracks the lifecycle of export runs, independent of the job
// rows that drive them.
type ExportLog interface {
	Create(id types.PrefixUUID, group, destination, version string) (*models.ExportResult, error)
	Get(id types.PrefixUUID) (*models.ExportResult, error)
	Finish(id types.PrefixUUID, result json.RawMessage) (*models.ExportResult, error)
}
