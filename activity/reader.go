package activity

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/events"
	"github.com/arkstead/keepsake/rest"
)

// A Fetcher retrieves collection documents from a peer service.
type Fetcher interface {
	Collection(ctx context.Context) (*models.OrderedCollection, error)
	Page(ctx context.Context, id string) (*models.OrderedCollectionPage, error)
}

// Checkpoints stores the harvester's "seen up to" watermark.
type Checkpoints interface {
	Checkpoint() (time.Time, error)
	SetCheckpoint(time.Time) error
}

// DBCheckpoints keeps the watermark on the ledger's sentinel row.
type DBCheckpoints struct{}

func (DBCheckpoints) Checkpoint() (time.Time, error) { return events.Checkpoint() }

func (DBCheckpoints) SetCheckpoint(t time.Time) error { return events.SetCheckpoint(t) }

// A Reader harvests new activities from a peer's collection.
type Reader struct {
	Fetch  Fetcher
	Marks  Checkpoints
	Logger *zap.Logger
}

// HarvestNew walks the collection from its newest page backwards and calls
// fn once per activity newer than the stored checkpoint, newest first. The
// walk stops at the first activity at or before the checkpoint; older pages
// are never fetched. Returns the number of activities handled and advances
// the checkpoint past them.
func (r *Reader) HarvestNew(ctx context.Context, fn func(models.Activity) error) (int, error) {
	since, err := r.Marks.Checkpoint()
	if err != nil {
		return 0, err
	}
	col, err := r.Fetch.Collection(ctx)
	if err != nil {
		return 0, err
	}
	if col.TotalItems == 0 || col.Last == nil {
		return 0, nil
	}

	seen := 0
	var newest time.Time
	pageID := col.Last.ID
	for pageID != "" {
		page, err := r.Fetch.Page(ctx, pageID)
		if err != nil {
			return seen, err
		}
		if len(page.OrderedItems) == 0 {
			// A page a collection links to always holds at least one
			// item; an empty one means the peer is serving a
			// malformed stream.
			return seen, models.NewUnknown(errors.Errorf("activity: page %s has no items", pageID))
		}
		caughtUp := false
		for _, act := range page.OrderedItems {
			if !act.EndTime.After(since) {
				caughtUp = true
				break
			}
			if err := fn(act); err != nil {
				return seen, err
			}
			if act.EndTime.After(newest) {
				newest = act.EndTime
			}
			seen++
		}
		if caughtUp || page.Prev == nil {
			break
		}
		pageID = page.Prev.ID
	}

	if newest.After(since) {
		if err := r.Marks.SetCheckpoint(newest); err != nil {
			return seen, err
		}
		r.Logger.Info("harvest checkpoint advanced",
			zap.Int("activities", seen),
			zap.Time("checkpoint", newest))
	}
	return seen, nil
}

// HTTPFetcher fetches collection documents over HTTP with basic auth.
type HTTPFetcher struct {
	Client *rest.Client
}

func (f *HTTPFetcher) Collection(ctx context.Context) (*models.OrderedCollection, error) {
	req, err := f.Client.NewRequest(ctx, "GET", "/v1/activity/collection", nil)
	if err != nil {
		return nil, err
	}
	col := new(models.OrderedCollection)
	if err := f.Client.Do(req, col); err != nil {
		return nil, err
	}
	return col, nil
}

// Page fetches one page by its absolute id. Ids outside the client's base
// are rejected rather than followed.
func (f *HTTPFetcher) Page(ctx context.Context, id string) (*models.OrderedCollectionPage, error) {
	path := strings.TrimPrefix(id, f.Client.Base)
	if path == id {
		return nil, models.NewValidation("activity: page id %s is outside the collection base", id)
	}
	req, err := f.Client.NewRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	page := new(models.OrderedCollectionPage)
	if err := f.Client.Do(req, page); err != nil {
		return nil, err
	}
	return page, nil
}
