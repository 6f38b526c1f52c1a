package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shyp/go-types"
)

// IDPrefix is prepended to every minted job identifier.
const IDPrefix = "job_"

type JobKind string

const (
	KindImport   = JobKind("import")
	KindExport   = JobKind("export")
	KindPipeline = JobKind("pipeline")
)

// Kinds lists every job kind with its own queue.
var Kinds = []JobKind{KindImport, KindExport, KindPipeline}

func (k JobKind) Valid() bool {
	return k == KindImport || k == KindExport || k == KindPipeline
}

type JobStatus string

// StatusWaiting indicates a job has been persisted and enqueued, but no
// executor has picked it up yet.
const StatusWaiting = JobStatus("waiting")

// StatusRunning indicates an executor has dequeued the job and is acting on
// it.
const StatusRunning = JobStatus("running")

const StatusCompleted = JobStatus("completed")
const StatusFailed = JobStatus("failed")

// Terminal reports whether no further transition is permitted out of s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the waiting -> running -> {completed, failed}
// state machine permits moving from s to next. Running may also move back to
// waiting: that is the explicit requeue path for retryable failures and the
// stuck-job watchdog. Transitions out of a terminal status are never
// permitted; an attempt indicates duplicate execution of the same job and
// must fail loudly at the store layer.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusWaiting:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusWaiting
	default:
		return false
	}
}

// Scan implements the Scanner interface.
func (s *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*s = JobStatus(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*s = JobStatus(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported JobStatus: %#v", src)
}

func (s JobStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the Scanner interface.
func (k *JobKind) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*k = JobKind(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*k = JobKind(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported JobKind: %#v", src)
}

func (k JobKind) Value() (driver.Value, error) {
	return string(k), nil
}

// A Job is one unit of queued preservation work against a deposit. The row is
// the source of truth for job state; the queue message only ever carries the
// job's identifier.
//
// Request is the snapshot of the submission body, captured at submit time and
// never trusted from the queue. Result holds the latest serialized result
// snapshot, if any.
type Job struct {
	ID            types.PrefixUUID `json:"id"`
	DepositID     string           `json:"deposit_id"`
	Kind          JobKind          `json:"kind"`
	ArchivalGroup string           `json:"archival_group"`
	Status        JobStatus        `json:"status"`
	DateSubmitted time.Time        `json:"date_submitted"`
	DateBegun     types.NullTime   `json:"date_begun"`
	DateFinished  types.NullTime   `json:"date_finished"`
	Request       json.RawMessage  `json:"request"`
	Result        json.RawMessage  `json:"result"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// An ImportRequest asks for a change set to be applied to an archival group,
// advancing it from SourceVersion to a new version.
type ImportRequest struct {
	ArchivalGroup string    `json:"archival_group"`
	SourceVersion string    `json:"source_version"`
	Changes       ChangeSet `json:"changes"`
}

// An ExportRequest asks for one version of an archival group to be streamed
// to a destination. An empty Version means the current version.
type ExportRequest struct {
	ArchivalGroup string `json:"archival_group"`
	Version       string `json:"version,omitempty"`
	Destination   string `json:"destination"`
}

// A PipelineRequest asks for format identification to be run over the files
// staged in a deposit.
type PipelineRequest struct {
	ArchivalGroup string `json:"archival_group"`
	Root          string `json:"root"`
}

// A ContainerOp names a container (directory) affected by an import.
type ContainerOp struct {
	Path string `json:"path"`
	From string `json:"from,omitempty"`
}

// A BinaryOp names a binary (file) affected by an import. Digest is the
// expected content digest of the staged file; From is set for renames.
type BinaryOp struct {
	Path        string `json:"path"`
	From        string `json:"from,omitempty"`
	Digest      string `json:"digest,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// A ChangeSet is the diff an import applies as one new version.
type ChangeSet struct {
	ContainersAdded   []ContainerOp `json:"containers_added,omitempty"`
	ContainersDeleted []ContainerOp `json:"containers_deleted,omitempty"`
	BinariesAdded     []BinaryOp    `json:"binaries_added,omitempty"`
	BinariesDeleted   []BinaryOp    `json:"binaries_deleted,omitempty"`
	BinariesRenamed   []BinaryOp    `json:"binaries_renamed,omitempty"`
	BinariesPatched   []BinaryOp    `json:"binaries_patched,omitempty"`
}

// Empty reports whether the change set would be a no-op version.
func (c ChangeSet) Empty() bool {
	return len(c.ContainersAdded) == 0 && len(c.ContainersDeleted) == 0 &&
		len(c.BinariesAdded) == 0 && len(c.BinariesDeleted) == 0 &&
		len(c.BinariesRenamed) == 0 && len(c.BinariesPatched) == 0
}
