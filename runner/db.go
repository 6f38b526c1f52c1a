package runner

import (
	"encoding/json"

	"github.com/Shyp/go-types"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/events"
	"github.com/arkstead/keepsake/models/exports"
)

// DBLedger appends to the archival_group_events table.
type DBLedger struct{}

func (DBLedger) Append(group, fromVersion, toVersion string, deleted bool, importJobID types.PrefixUUID) (*models.ArchivalGroupEvent, error) {
	return events.Append(group, fromVersion, toVersion, deleted, importJobID)
}

// DBExportLog reads and writes the export_results table.
type DBExportLog struct{}

func (DBExportLog) Create(id types.PrefixUUID, group, destination, version string) (*models.ExportResult, error) {
	return exports.Create(id, group, destination, version)
}

func (DBExportLog) Get(id types.PrefixUUID) (*models.ExportResult, error) {
	return exports.Get(id)
}

func (DBExportLog) Finish(id types.PrefixUUID, result json.RawMessage) (*models.ExportResult, error) {
	return exports.Finish(id, result)
}
