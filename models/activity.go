package models

import "time"

// ActivityStreamsContext is the JSON-LD context served with every collection
// document.
const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

const (
	ActivityUpdate = "Update"
	ActivityDelete = "Delete"
)

// An Activity is one ledger entry rendered for external harvesters.
type Activity struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Object  ActivityObject `json:"object"`
	EndTime time.Time      `json:"endTime"`
}

type ActivityObject struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// A PageRef is a link to a collection or page.
type PageRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// An OrderedCollection is the root document of the change log: a count and
// links to the first and last pages.
type OrderedCollection struct {
	Context    string   `json:"@context"`
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	TotalItems int      `json:"totalItems"`
	First      *PageRef `json:"first,omitempty"`
	Last       *PageRef `json:"last,omitempty"`
}

// An OrderedCollectionPage holds a bounded slice of activities, newest first.
// Pages other than the last are immutable; traversal via Prev from the last
// page yields non-increasing endTime ordering.
type OrderedCollectionPage struct {
	Context      string     `json:"@context"`
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	PartOf       string     `json:"partOf"`
	Prev         *PageRef   `json:"prev,omitempty"`
	Next         *PageRef   `json:"next,omitempty"`
	OrderedItems []Activity `json:"orderedItems"`
}
