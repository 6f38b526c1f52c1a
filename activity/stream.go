// Package activity renders the archival group event ledger as an
// ActivityStreams OrderedCollection, and harvests the same shape from peer
// services.
package activity

import (
	"fmt"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/events"
	"github.com/arkstead/keepsake/mutator"
)

// A Source supplies ledger entries for rendering. Satisfied by DBSource.
type Source interface {
	Count() (int, error)
	GetPage(page, pageSize int) ([]*models.ArchivalGroupEvent, error)
}

// DBSource reads the archival_group_events table.
type DBSource struct{}

func (DBSource) Count() (int, error) { return events.Count() }

func (DBSource) GetPage(page, pageSize int) ([]*models.ArchivalGroupEvent, error) {
	return events.GetPage(page, pageSize)
}

// A Stream renders the ledger as pages of activities. Page boundaries are
// fixed windows over the ledger's insertion order, so every page except the
// newest is immutable once full.
type Stream struct {
	Source   Source
	Mutator  *mutator.Mutator
	BaseURL  string
	PageSize int
}

func (s *Stream) CollectionURL() string {
	return s.BaseURL + "/v1/activity/collection"
}

func (s *Stream) PageURL(n int) string {
	return fmt.Sprintf("%s/v1/activity/page/%d", s.BaseURL, n)
}

func (s *Stream) pageRef(n int) *models.PageRef {
	return &models.PageRef{ID: s.PageURL(n), Type: "OrderedCollectionPage"}
}

func (s *Stream) pageCount(items int) int {
	return (items + s.PageSize - 1) / s.PageSize
}

// Collection returns the root document: the total entry count and links to
// the oldest and newest pages.
func (s *Stream) Collection() (*models.OrderedCollection, error) {
	n, err := s.Source.Count()
	if err != nil {
		return nil, err
	}
	col := &models.OrderedCollection{
		Context:    models.ActivityStreamsContext,
		ID:         s.CollectionURL(),
		Type:       "OrderedCollection",
		TotalItems: n,
	}
	if n > 0 {
		col.First = s.pageRef(1)
		col.Last = s.pageRef(s.pageCount(n))
	}
	return col, nil
}

// Page returns page n (1-based, oldest first) with its items rendered newest
// first. Harvesters start at the collection's last page and walk prev links.
func (s *Stream) Page(n int) (*models.OrderedCollectionPage, error) {
	total, err := s.Source.Count()
	if err != nil {
		return nil, err
	}
	pages := s.pageCount(total)
	if n < 1 || n > pages {
		return nil, models.NewNotFound("No activity page %d", n)
	}
	evs, err := s.Source.GetPage(n, s.PageSize)
	if err != nil {
		return nil, err
	}

	page := &models.OrderedCollectionPage{
		Context: models.ActivityStreamsContext,
		ID:      s.PageURL(n),
		Type:    "OrderedCollectionPage",
		PartOf:  s.CollectionURL(),
	}
	if n > 1 {
		page.Prev = s.pageRef(n - 1)
	}
	if n < pages {
		page.Next = s.pageRef(n + 1)
	}
	page.OrderedItems = make([]models.Activity, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		page.OrderedItems = append(page.OrderedItems, Render(evs[i], s.BaseURL, s.Mutator))
	}
	return page, nil
}

// Render turns one ledger entry into an activity, rewriting the archival
// group's storage URI to its public preservation form.
func Render(ev *models.ArchivalGroupEvent, baseURL string, mut *mutator.Mutator) models.Activity {
	typ := models.ActivityUpdate
	if ev.Deleted {
		typ = models.ActivityDelete
	}
	return models.Activity{
		ID:   fmt.Sprintf("%s/v1/activity/event/%d", baseURL, ev.ID),
		Type: typ,
		Object: models.ActivityObject{
			ID:   mut.ToPreservation(ev.ArchivalGroup),
			Type: "Object",
		},
		EndTime: ev.EndTime,
	}
}
