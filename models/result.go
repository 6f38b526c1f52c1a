package models

import (
	"encoding/json"
	"time"

	"github.com/Shyp/go-types"
)

// ResultCounts summarizes how many resources one job touched.
type ResultCounts struct {
	ContainersAdded   int `json:"containers_added"`
	ContainersDeleted int `json:"containers_deleted"`
	BinariesAdded     int `json:"binaries_added"`
	BinariesDeleted   int `json:"binaries_deleted"`
	BinariesRenamed   int `json:"binaries_renamed"`
	BinariesPatched   int `json:"binaries_patched"`
}

// A JobResult is the view of a job returned to API callers: the job row plus
// the decoded latest result snapshot. It is always projected from the Job and
// never persisted on its own.
type JobResult struct {
	ID            types.PrefixUUID `json:"id"`
	DepositID     string           `json:"deposit_id"`
	Kind          JobKind          `json:"kind"`
	ArchivalGroup string           `json:"archival_group"`
	Status        JobStatus        `json:"status"`
	DateSubmitted time.Time        `json:"date_submitted"`
	DateBegun     types.NullTime   `json:"date_begun"`
	DateFinished  types.NullTime   `json:"date_finished"`

	// NewVersion is set by a completed import: the version the archival
	// group was advanced to.
	NewVersion string `json:"new_version,omitempty"`

	// Destination is set by a completed export.
	Destination string `json:"destination,omitempty"`

	// Files is set by a completed pipeline run: one entry per identified
	// file.
	Files []FileRecord `json:"files,omitempty"`

	Counts ResultCounts `json:"counts"`
	Errors []Error      `json:"errors,omitempty"`
}

// A FileRecord is one file's technical metadata as reported by the format
// identification tool.
type FileRecord struct {
	Filename string        `json:"filename"`
	Size     int64         `json:"filesize"`
	Modified string        `json:"modified"`
	Digest   string        `json:"digest"`
	Errors   string        `json:"errors,omitempty"`
	Matches  []FormatMatch `json:"matches"`
}

// A FormatMatch is a single signature match for a file.
type FormatMatch struct {
	Namespace string `json:"ns"`
	ID        string `json:"id"`
	Format    string `json:"format"`
	Version   string `json:"version,omitempty"`
	MIME      string `json:"mime,omitempty"`
	Class     string `json:"class,omitempty"`
	Basis     string `json:"basis,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Snapshot is the portion of a JobResult stored in the job row's result
// column. Job/lifecycle fields are not duplicated in the snapshot; Project
// restores them from the row.
type Snapshot struct {
	NewVersion  string       `json:"new_version,omitempty"`
	Destination string       `json:"destination,omitempty"`
	Files       []FileRecord `json:"files,omitempty"`
	Counts      ResultCounts `json:"counts"`
	Errors      []Error      `json:"errors,omitempty"`
}

// Project combines a job row with its latest result snapshot. A job with no
// snapshot yet (waiting, running, or failed before producing one) projects
// with zero counts.
func Project(job *Job) (*JobResult, error) {
	jr := &JobResult{
		ID:            job.ID,
		DepositID:     job.DepositID,
		Kind:          job.Kind,
		ArchivalGroup: job.ArchivalGroup,
		Status:        job.Status,
		DateSubmitted: job.DateSubmitted,
		DateBegun:     job.DateBegun,
		DateFinished:  job.DateFinished,
	}
	if len(job.Result) == 0 {
		return jr, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(job.Result, &snap); err != nil {
		return nil, err
	}
	jr.NewVersion = snap.NewVersion
	jr.Destination = snap.Destination
	jr.Files = snap.Files
	jr.Counts = snap.Counts
	jr.Errors = snap.Errors
	return jr, nil
}

// Snapshot extracts the persistable portion of jr.
func (jr *JobResult) Snapshot() Snapshot {
	return Snapshot{
		NewVersion:  jr.NewVersion,
		Destination: jr.Destination,
		Files:       jr.Files,
		Counts:      jr.Counts,
		Errors:      jr.Errors,
	}
}
