// Package factory builds model fixtures for tests.
package factory

import (
	"encoding/json"
	"time"

	"github.com/Shyp/go-types"

	"github.com/arkstead/keepsake/models"
)

// JobID mints a random job identifier. Panics on failure; factories are only
// called from tests.
func JobID() types.PrefixUUID {
	return types.GenerateUUID(models.IDPrefix)
}

// Job builds a running job of the given kind whose request body is the JSON
// encoding of req.
func Job(kind models.JobKind, req interface{}) *models.Job {
	body, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}
	id := JobID()
	return &models.Job{
		ID:            id,
		DepositID:     "deposit-" + id.UUID.String()[:8],
		Kind:          kind,
		ArchivalGroup: "https://storage.example.org/groups/ag-1",
		Status:        models.StatusRunning,
		DateSubmitted: time.Now().UTC(),
		Request:       body,
	}
}

// RawJob builds a running job with a request body that is not necessarily
// valid JSON.
func RawJob(kind models.JobKind, body string) *models.Job {
	j := Job(kind, struct{}{})
	j.Request = json.RawMessage(body)
	return j
}

// ImportRequest builds a change set adding two binaries.
func ImportRequest(group, sourceVersion string) models.ImportRequest {
	return models.ImportRequest{
		ArchivalGroup: group,
		SourceVersion: sourceVersion,
		Changes: models.ChangeSet{
			BinariesAdded: []models.BinaryOp{
				{Path: "objects/0001.tif", Digest: "sha256:aa11", ContentType: "image/tiff"},
				{Path: "objects/METS.xml", Digest: "sha256:bb22", ContentType: "application/xml"},
			},
		},
	}
}
