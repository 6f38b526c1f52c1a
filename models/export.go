package models

import (
	"encoding/json"
	"time"

	"github.com/Shyp/go-types"
)

// ExportIDPrefix is prepended to every minted export identifier.
const ExportIDPrefix = "export_"

// An ExportResult records one export of an archival group version to a
// destination. At most one unfinished row (DateFinished null) may exist per
// archival group; the invariant is checked before enqueueing a new export,
// not enforced by the database.
type ExportResult struct {
	ID            types.PrefixUUID `json:"id"`
	ArchivalGroup string           `json:"archival_group"`
	Destination   string           `json:"destination"`
	Version       string           `json:"version"`
	DateBegun     time.Time        `json:"date_begun"`
	DateFinished  types.NullTime   `json:"date_finished"`
	Result        json.RawMessage  `json:"result"`
}
