// Logic for interacting with the "export_results" table.
package exports

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shyp/go-dberror"
	"github.com/Shyp/go-types"
	"github.com/kevinburke/go.uuid"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/db"
)

// ErrNotFound indicates that the export result was not found.
var ErrNotFound = models.NewNotFound("Export result not found")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var unfinishedStmt *sql.Stmt
var finishStmt *sql.Stmt

// Setup prepares all database statements in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- exports.Create
INSERT INTO export_results (id, archival_group, destination, version)
VALUES ($1, $2, $3, $4)
RETURNING %s`, fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- exports.Get
SELECT %s
FROM export_results
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- exports.CountUnfinished
SELECT count(*) FROM export_results
WHERE archival_group = $1 AND date_finished IS NULL`
	unfinishedStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- exports.Finish
UPDATE export_results
SET date_finished=now(), result=$2
WHERE id = $1 AND date_finished IS NULL
RETURNING %s`, fields())
	finishStmt, err = db.Conn.Prepare(query)
	return
}

// Create persists a new unfinished export row. Callers are expected to have
// checked CountUnfinished first; the "one unfinished export per group"
// invariant is a pre-check, not a database constraint.
func Create(id types.PrefixUUID, group, destination, version string) (*models.ExportResult, error) {
	er := new(models.ExportResult)
	var res []byte
	err := createStmt.QueryRow(id, group, destination, version).Scan(args(er, &res)...)
	if err != nil {
		derr := dberror.GetError(err)
		if e, ok := derr.(*dberror.Error); ok && e.Code == dberror.CodeUniqueViolation {
			return nil, models.NewConflict("An export with id %s already exists", id.String())
		}
		return nil, models.NewUnknown(derr)
	}
	er.Result = json.RawMessage(res)
	return er, nil
}

// Get returns the export result with the given id, or ErrNotFound.
func Get(id types.PrefixUUID) (*models.ExportResult, error) {
	if id.UUID == uuid.Nil {
		return nil, models.NewValidation("Invalid export id")
	}
	er := new(models.ExportResult)
	var res []byte
	err := getStmt.QueryRow(id).Scan(args(er, &res)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	er.Result = json.RawMessage(res)
	return er, nil
}

// CountUnfinished returns the number of unfinished exports for the group.
func CountUnfinished(group string) (int, error) {
	var n int
	if err := unfinishedStmt.QueryRow(group).Scan(&n); err != nil {
		return 0, models.NewUnknown(dberror.GetError(err))
	}
	return n, nil
}

// Finish stamps date_finished and stores the result body. Finishing an
// already-finished export returns a Conflict: the row is immutable once
// terminal.
func Finish(id types.PrefixUUID, result json.RawMessage) (*models.ExportResult, error) {
	er := new(models.ExportResult)
	var res []byte
	err := finishStmt.QueryRow(id, []byte(result)).Scan(args(er, &res)...)
	if err == nil {
		er.Result = json.RawMessage(res)
		return er, nil
	}
	if err != sql.ErrNoRows {
		return nil, models.NewUnknown(dberror.GetError(err))
	}
	if _, gerr := Get(id); gerr != nil {
		return nil, gerr
	}
	return nil, models.NewConflict("Export %s is already finished", id.String())
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	archival_group,
	destination,
	version,
	date_begun,
	date_finished,
	result`, models.ExportIDPrefix)
}

func args(er *models.ExportResult, resptr *[]byte) []interface{} {
	return []interface{}{
		&er.ID,
		&er.ArchivalGroup,
		&er.Destination,
		&er.Version,
		&er.DateBegun,
		&er.DateFinished,
		resptr,
	}
}
