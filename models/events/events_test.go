package events_test

import (
	"testing"
	"time"

	"github.com/Shyp/go-types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/events"
	testdb "github.com/arkstead/keepsake/test/db"
	"github.com/arkstead/keepsake/test/factory"
)

const group = "https://storage.example.org/groups/ag-1"

func TestAppendAndGet(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	jid := factory.JobID()
	ev, err := events.Append(group, "v1", "v2", false, jid)
	require.NoError(t, err)
	assert.True(t, ev.ID > 0)
	assert.Equal(t, group, ev.ArchivalGroup)
	assert.Equal(t, "v1", ev.FromVersion)
	assert.Equal(t, "v2", ev.ToVersion)
	assert.False(t, ev.Deleted)
	require.NotNil(t, ev.ImportJobID)
	assert.Equal(t, jid.String(), ev.ImportJobID.String())

	got, err := events.Get(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	require.NotNil(t, got.ImportJobID)
	assert.Equal(t, jid.String(), got.ImportJobID.String())

	_, err = events.Get(999999)
	assert.Equal(t, events.ErrNotFound, err)
}

func TestAppendWithoutImportJob(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	ev, err := events.Append(group, "v3", "", true, types.PrefixUUID{})
	require.NoError(t, err)
	assert.True(t, ev.Deleted)
	assert.Nil(t, ev.ImportJobID)
}

func TestCountExcludesSentinel(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	n, err := events.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = events.Append(group, "", "v1", false, types.PrefixUUID{})
	require.NoError(t, err)
	n, err = events.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetPage(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	versions := []string{"v1", "v2", "v3", "v4", "v5"}
	for i, v := range versions {
		from := ""
		if i > 0 {
			from = versions[i-1]
		}
		_, err := events.Append(group, from, v, false, types.PrefixUUID{})
		require.NoError(t, err)
	}

	page, err := events.GetPage(1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "v1", page[0].ToVersion)
	assert.Equal(t, "v2", page[1].ToVersion)

	page, err = events.GetPage(3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "v5", page[0].ToVersion)

	page, err = events.GetPage(4, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = events.GetPage(0, 2)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)
}

func TestCheckpoint(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	mark := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, events.SetCheckpoint(mark))
	got, err := events.Checkpoint()
	require.NoError(t, err)
	assert.True(t, got.Equal(mark))
}
