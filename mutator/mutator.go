// Package mutator translates resource URIs between the internal storage
// address space and the externally exposed preservation address space.
// Address translation only; no business logic.
package mutator

import (
	"strings"

	"github.com/arkstead/keepsake/models"
)

type Mutator struct {
	storageBase      string
	preservationBase string
}

func New(storageBase, preservationBase string) *Mutator {
	return &Mutator{
		storageBase:      strings.TrimRight(storageBase, "/"),
		preservationBase: strings.TrimRight(preservationBase, "/"),
	}
}

// ToPreservation rewrites a storage-service URI into its preservation-API
// form. URIs outside the storage address space pass through unchanged.
func (m *Mutator) ToPreservation(uri string) string {
	return rewrite(uri, m.storageBase, m.preservationBase)
}

// ToStorage is the inverse of ToPreservation.
func (m *Mutator) ToStorage(uri string) string {
	return rewrite(uri, m.preservationBase, m.storageBase)
}

func rewrite(uri, from, to string) string {
	if uri == from {
		return to
	}
	if strings.HasPrefix(uri, from+"/") {
		return to + strings.TrimPrefix(uri, from)
	}
	return uri
}

// MutateResult rewrites every URI in a job result into the preservation
// address space. Every result crossing the API boundary goes through here.
func (m *Mutator) MutateResult(jr *models.JobResult) *models.JobResult {
	out := *jr
	out.ArchivalGroup = m.ToPreservation(jr.ArchivalGroup)
	out.Destination = m.ToPreservation(jr.Destination)
	return &out
}

// MutateEvent rewrites the archival group URI in a ledger entry.
func (m *Mutator) MutateEvent(ev *models.ArchivalGroupEvent) *models.ArchivalGroupEvent {
	out := *ev
	out.ArchivalGroup = m.ToPreservation(ev.ArchivalGroup)
	return &out
}
