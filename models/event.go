package models

import (
	"time"

	"github.com/Shyp/go-types"
)

// CheckpointID is the identifier of the sentinel ledger row. Its EndTime
// holds the bootstrap "last checked" timestamp for harvesters that have no
// checkpoint of their own; it never corresponds to a real version change.
const CheckpointID = int64(-1)

// An ArchivalGroupEvent records that an archival group moved from one version
// to another (or was deleted) at a point in time. Rows are append-only; the
// ledger is the source for the activity stream.
type ArchivalGroupEvent struct {
	ID            int64  `json:"id"`
	ArchivalGroup string `json:"archival_group"`
	FromVersion   string `json:"from_version"`
	ToVersion     string `json:"to_version"`
	Deleted       bool   `json:"deleted"`
	// ImportJobID is nil for events that did not come from an import job
	// (external pushes).
	ImportJobID *types.PrefixUUID `json:"import_job_id,omitempty"`
	EndTime     time.Time         `json:"end_time"`
}
