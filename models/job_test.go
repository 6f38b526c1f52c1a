package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKindValid(t *testing.T) {
	for _, kind := range Kinds {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, JobKind("").Valid())
	assert.False(t, JobKind("archive").Valid())
	assert.False(t, JobKind("Import").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusWaiting.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestCanTransition(t *testing.T) {
	statuses := []JobStatus{StatusWaiting, StatusRunning, StatusCompleted, StatusFailed}
	allowed := map[JobStatus][]JobStatus{
		StatusWaiting: {StatusRunning},
		StatusRunning: {StatusCompleted, StatusFailed, StatusWaiting},
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := false
			for _, ok := range allowed[from] {
				if to == ok {
					want = true
				}
			}
			got := from.CanTransition(to)
			assert.Equal(t, want, got, "%s -> %s", from, to)
		}
	}
}

func TestStatusScan(t *testing.T) {
	var s JobStatus
	require.NoError(t, s.Scan("running"))
	assert.Equal(t, StatusRunning, s)
	require.NoError(t, s.Scan([]byte("failed")))
	assert.Equal(t, StatusFailed, s)
	assert.Error(t, s.Scan(7))
}

func TestChangeSetEmpty(t *testing.T) {
	assert.True(t, ChangeSet{}.Empty())
	assert.False(t, ChangeSet{
		BinariesAdded: []BinaryOp{{Path: "objects/page-1.tif"}},
	}.Empty())
	assert.False(t, ChangeSet{
		ContainersDeleted: []ContainerOp{{Path: "objects/drafts"}},
	}.Empty())
}
