// Logic for interacting with the "archival_group_events" table: the
// append-only ledger behind the activity stream.
package events

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shyp/go-dberror"
	"github.com/Shyp/go-types"
	"github.com/kevinburke/go.uuid"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/db"
)

// ErrNotFound indicates the ledger entry was not found.
var ErrNotFound = models.NewNotFound("Archival group event not found")

var appendStmt *sql.Stmt
var getStmt *sql.Stmt
var countStmt *sql.Stmt
var pageStmt *sql.Stmt
var checkpointStmt *sql.Stmt
var setCheckpointStmt *sql.Stmt

// Setup prepares all database statements in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if appendStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- events.Append
INSERT INTO archival_group_events (archival_group, from_version, to_version, deleted, import_job_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING %s`, fields())
	appendStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- events.Get
SELECT %s
FROM archival_group_events
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- events.Count
SELECT count(*) FROM archival_group_events WHERE id > 0`)
	countStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	// Pages are fixed windows over the ledger in insertion order; page 1 is
	// the oldest. Rendering reverses each window so items read newest-first.
	query = fmt.Sprintf(`-- events.GetPage
SELECT %s
FROM archival_group_events
WHERE id > 0
ORDER BY id ASC
LIMIT $1 OFFSET $2`, fields())
	pageStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- events.Checkpoint
SELECT end_time FROM archival_group_events WHERE id = %d`, models.CheckpointID)
	checkpointStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- events.SetCheckpoint
UPDATE archival_group_events SET end_time = $1 WHERE id = %d`, models.CheckpointID)
	setCheckpointStmt, err = db.Conn.Prepare(query)
	return
}

// Append records a version transition in the ledger. importJobID may have a
// nil UUID for events that did not originate from an import job (external
// pushes).
func Append(group, fromVersion, toVersion string, deleted bool, importJobID types.PrefixUUID) (*models.ArchivalGroupEvent, error) {
	var jid interface{}
	if importJobID.UUID != uuid.Nil {
		jid = importJobID.UUID.String()
	}
	ev := new(models.ArchivalGroupEvent)
	var jidStr string
	err := appendStmt.QueryRow(group, fromVersion, toVersion, deleted, jid).Scan(args(ev, &jidStr)...)
	if err != nil {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	setImportJobID(ev, jidStr)
	return ev, nil
}

// Get returns one ledger entry by id.
func Get(id int64) (*models.ArchivalGroupEvent, error) {
	ev := new(models.ArchivalGroupEvent)
	var jidStr string
	err := getStmt.QueryRow(id).Scan(args(ev, &jidStr)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	setImportJobID(ev, jidStr)
	return ev, nil
}

// Count returns the number of real (non-sentinel) ledger entries.
func Count() (int, error) {
	var n int
	if err := countStmt.QueryRow().Scan(&n); err != nil {
		return 0, models.NewUnknown(dberror.GetError(err))
	}
	return n, nil
}

// GetPage returns page number page (1-based) of the ledger in insertion
// order, with pageSize entries per page. The last page may be short.
func GetPage(page, pageSize int) ([]*models.ArchivalGroupEvent, error) {
	if page < 1 || pageSize < 1 {
		return nil, models.NewValidation("Invalid page %d (size %d)", page, pageSize)
	}
	rows, err := pageStmt.Query(pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	defer rows.Close()
	var out []*models.ArchivalGroupEvent
	for rows.Next() {
		ev := new(models.ArchivalGroupEvent)
		var jidStr string
		if err := rows.Scan(args(ev, &jidStr)...); err != nil {
			return out, models.NewUnknown(err)
		}
		setImportJobID(ev, jidStr)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return out, models.NewUnknown(err)
	}
	return out, nil
}

// Checkpoint returns the bootstrap "last checked" timestamp held by the
// sentinel row.
func Checkpoint() (time.Time, error) {
	var t time.Time
	if err := checkpointStmt.QueryRow().Scan(&t); err != nil {
		return t, models.NewUnknown(dberror.GetError(err))
	}
	return t, nil
}

// SetCheckpoint advances the sentinel row's timestamp.
func SetCheckpoint(t time.Time) error {
	if _, err := setCheckpointStmt.Exec(t); err != nil {
		return models.NewUnknown(dberror.GetError(err))
	}
	return nil
}

func fields() string {
	return `id,
	archival_group,
	from_version,
	to_version,
	deleted,
	COALESCE(import_job_id::text, ''),
	end_time`
}

func args(ev *models.ArchivalGroupEvent, jidStr *string) []interface{} {
	return []interface{}{
		&ev.ID,
		&ev.ArchivalGroup,
		&ev.FromVersion,
		&ev.ToVersion,
		&ev.Deleted,
		jidStr,
		&ev.EndTime,
	}
}

func setImportJobID(ev *models.ArchivalGroupEvent, jidStr string) {
	if jidStr == "" {
		return
	}
	id, err := types.NewPrefixUUID(models.IDPrefix + jidStr)
	if err == nil {
		ev.ImportJobID = &id
	}
}
