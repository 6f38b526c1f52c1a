// Logic for interacting with the "deposit_jobs" table.
package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Shyp/go-dberror"
	"github.com/Shyp/go-types"
	"github.com/kevinburke/go.uuid"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/db"
)

// ErrNotFound indicates that the job was not found.
var ErrNotFound = models.NewNotFound("Deposit job not found")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var getForDepositStmt *sql.Stmt
var getByDepositStmt *sql.Stmt
var beginStmt *sql.Stmt
var heartbeatStmt *sql.Stmt
var finishStmt *sql.Stmt
var requeueStmt *sql.Stmt
var stuckStmt *sql.Stmt

// StuckJobLimit is the maximum number of stuck jobs fetched in one query.
var StuckJobLimit = 100

// Setup prepares all database statements in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- jobs.Create
INSERT INTO deposit_jobs (%s)
VALUES ($1, $2, $3, $4, '%s', $5)
RETURNING %s`, insertFields(), models.StatusWaiting, fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Get
SELECT %s
FROM deposit_jobs
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetForDeposit
SELECT %s
FROM deposit_jobs
WHERE id = $1
	AND deposit_id = $2`, fields())
	getForDepositStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetByDeposit
SELECT %s
FROM deposit_jobs
WHERE deposit_id = $1
ORDER BY date_submitted ASC`, fields())
	getByDepositStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Begin
UPDATE deposit_jobs
SET status='%s',
	date_begun=now(),
	updated_at=now()
WHERE id = $1
	AND status='%s'
RETURNING %s`, models.StatusRunning, models.StatusWaiting, fields())
	beginStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Heartbeat
UPDATE deposit_jobs
SET updated_at=now()
WHERE id = $1
	AND status='%s'
RETURNING %s`, models.StatusRunning, fields())
	heartbeatStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Finish
UPDATE deposit_jobs
SET status=$2,
	date_finished=now(),
	result=$3,
	updated_at=now()
WHERE id = $1
	AND status='%s'
RETURNING %s`, models.StatusRunning, fields())
	finishStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Requeue
UPDATE deposit_jobs
SET status='%s',
	date_begun=NULL,
	result=$2,
	updated_at=now()
WHERE id = $1
	AND status='%s'
RETURNING %s`, models.StatusWaiting, models.StatusRunning, fields())
	requeueStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetStuckRunning
SELECT %s FROM deposit_jobs
WHERE status='%s' AND updated_at < $1
LIMIT %d`, fields(), models.StatusRunning, StuckJobLimit)
	stuckStmt, err = db.Conn.Prepare(query)
	return
}

// Create persists a new job in the waiting status. Returns a Conflict error
// if a job with the same identifier already exists.
func Create(job *models.Job) (*models.Job, error) {
	created := new(models.Job)
	var req, res []byte
	err := createStmt.QueryRow(job.ID, job.DepositID, job.Kind, job.ArchivalGroup,
		[]byte(job.Request)).Scan(args(created, &req, &res)...)
	if err != nil {
		derr := dberror.GetError(err)
		if e, ok := derr.(*dberror.Error); ok && e.Code == dberror.CodeUniqueViolation {
			return nil, models.NewConflict("A job with id %s already exists", job.ID.String())
		}
		return nil, models.NewUnknown(derr)
	}
	created.Request = json.RawMessage(req)
	created.Result = json.RawMessage(res)
	return created, nil
}

// Get the job with the given id. Returns ErrNotFound if no row matches.
func Get(id types.PrefixUUID) (*models.Job, error) {
	if id.UUID == uuid.Nil {
		return nil, models.NewValidation("Invalid job id")
	}
	job := new(models.Job)
	var req, res []byte
	err := getStmt.QueryRow(id).Scan(args(job, &req, &res)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	job.Request = json.RawMessage(req)
	job.Result = json.RawMessage(res)
	return job, nil
}

// GetRetry attempts to retrieve the job attempts times before giving up.
func GetRetry(id types.PrefixUUID, attempts uint8) (job *models.Job, err error) {
	for i := uint8(0); i < attempts; i++ {
		job, err = Get(id)
		if err == nil || err == ErrNotFound {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return
}

// GetForDeposit returns the job with the given id only if it belongs to the
// deposit. A mismatched deposit and job pair reads as ErrNotFound; jobs are
// addressed by deposit plus identifier at the API boundary.
func GetForDeposit(depositID string, id types.PrefixUUID) (*models.Job, error) {
	job := new(models.Job)
	var req, res []byte
	err := getForDepositStmt.QueryRow(id, depositID).Scan(args(job, &req, &res)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	job.Request = json.RawMessage(req)
	job.Result = json.RawMessage(res)
	return job, nil
}

// GetByDeposit returns every job ever submitted for the deposit, ordered by
// submission time ascending.
func GetByDeposit(depositID string) ([]*models.Job, error) {
	rows, err := getByDepositStmt.Query(depositID)
	if err != nil {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		job := new(models.Job)
		var req, res []byte
		if err := rows.Scan(args(job, &req, &res)...); err != nil {
			return out, models.NewUnknown(err)
		}
		job.Request = json.RawMessage(req)
		job.Result = json.RawMessage(res)
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return out, models.NewUnknown(err)
	}
	return out, nil
}

// Begin transitions the job from waiting to running, stamping date_begun.
// A second Begin for the same job (duplicate delivery) returns a Conflict.
func Begin(id types.PrefixUUID) (*models.Job, error) {
	job := new(models.Job)
	var req, res []byte
	err := beginStmt.QueryRow(id).Scan(args(job, &req, &res)...)
	if err == nil {
		job.Request = json.RawMessage(req)
		job.Result = json.RawMessage(res)
		return job, nil
	}
	if err != sql.ErrNoRows {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	return nil, transitionError(id, models.StatusRunning)
}

// Heartbeat refreshes updated_at on a running job. Executors call it
// periodically while a runner is in flight, so the stuck-job sweep only
// reclaims jobs whose executor has actually died. Returns a Conflict if the
// job is no longer running.
func Heartbeat(id types.PrefixUUID) (*models.Job, error) {
	job := new(models.Job)
	var req, res []byte
	err := heartbeatStmt.QueryRow(id).Scan(args(job, &req, &res)...)
	if err == nil {
		job.Request = json.RawMessage(req)
		job.Result = json.RawMessage(res)
		return job, nil
	}
	if err != sql.ErrNoRows {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	return nil, transitionError(id, models.StatusRunning)
}

// Finish transitions the job from running to the given terminal status and
// stores the result snapshot. A transition out of a status that is already
// terminal is a contract violation and returns a loud Conflict error, never
// a silent no-op: it means the same job was executed twice.
func Finish(id types.PrefixUUID, status models.JobStatus, snapshot json.RawMessage) (*models.Job, error) {
	if !status.Terminal() {
		return nil, models.NewValidation("Finish requires a terminal status, got %s", status)
	}
	job := new(models.Job)
	var req, res []byte
	err := finishStmt.QueryRow(id, status, []byte(snapshot)).Scan(args(job, &req, &res)...)
	if err == nil {
		job.Request = json.RawMessage(req)
		job.Result = json.RawMessage(res)
		return job, nil
	}
	if err != sql.ErrNoRows {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	return nil, transitionError(id, status)
}

// Requeue transitions a running job back to waiting so a later delivery can
// retry it, keeping the latest result snapshot for the audit trail.
func Requeue(id types.PrefixUUID, snapshot json.RawMessage) (*models.Job, error) {
	job := new(models.Job)
	var req, res []byte
	err := requeueStmt.QueryRow(id, []byte(snapshot)).Scan(args(job, &req, &res)...)
	if err == nil {
		job.Request = json.RawMessage(req)
		job.Result = json.RawMessage(res)
		return job, nil
	}
	if err != sql.ErrNoRows {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	return nil, transitionError(id, models.StatusWaiting)
}

// GetStuckRunning finds running jobs that have not been touched since
// olderThan. At most StuckJobLimit jobs are returned.
func GetStuckRunning(olderThan time.Time) ([]*models.Job, error) {
	rows, err := stuckStmt.Query(olderThan)
	if err != nil {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		job := new(models.Job)
		var req, res []byte
		if err := rows.Scan(args(job, &req, &res)...); err != nil {
			return out, models.NewUnknown(err)
		}
		job.Request = json.RawMessage(req)
		job.Result = json.RawMessage(res)
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return out, models.NewUnknown(err)
	}
	return out, nil
}

// transitionError reloads the row to report why a guarded update matched
// nothing: absent row, or a state the transition is not permitted from.
func transitionError(id types.PrefixUUID, wanted models.JobStatus) error {
	current, err := Get(id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return models.NewConflict(
			"Job %s is already %s; a transition to %s indicates duplicate execution",
			id.String(), current.Status, wanted)
	}
	return models.NewConflict("Job %s is %s, cannot transition to %s",
		id.String(), current.Status, wanted)
}

func insertFields() string {
	return `id,
	deposit_id,
	kind,
	archival_group,
	status,
	request`
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	deposit_id,
	kind,
	archival_group,
	status,
	date_submitted,
	date_begun,
	date_finished,
	request,
	result,
	created_at,
	updated_at`, models.IDPrefix)
}

func args(job *models.Job, reqptr, resptr *[]byte) []interface{} {
	return []interface{}{
		&job.ID,
		&job.DepositID,
		&job.Kind,
		&job.ArchivalGroup,
		&job.Status,
		&job.DateSubmitted,
		&job.DateBegun,
		&job.DateFinished,
		// can't scan into json.RawMessage, https://github.com/golang/go/issues/13905
		reqptr,
		resptr,
		&job.CreatedAt,
		&job.UpdatedAt,
	}
}
