package exports_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/exports"
	testdb "github.com/arkstead/keepsake/test/db"
	"github.com/arkstead/keepsake/test/factory"
)

const group = "https://storage.example.org/groups/ag-1"

func TestCreateAndGet(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	id := factory.JobID()
	created, err := exports.Create(id, group, "s3://dips/batch-7", "v3")
	require.NoError(t, err)
	assert.Equal(t, group, created.ArchivalGroup)
	assert.Equal(t, "s3://dips/batch-7", created.Destination)
	assert.Equal(t, "v3", created.Version)
	assert.False(t, created.DateFinished.Valid)

	got, err := exports.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id.UUID.String(), got.ID.UUID.String())

	_, err = exports.Get(factory.JobID())
	assert.Equal(t, exports.ErrNotFound, err)
}

func TestCreateDuplicateConflict(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	id := factory.JobID()
	_, err := exports.Create(id, group, "s3://dips/batch-7", "v3")
	require.NoError(t, err)
	_, err = exports.Create(id, group, "s3://dips/batch-7", "v3")
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.Classify(err).Code)
}

func TestCountUnfinished(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	n, err := exports.CountUnfinished(group)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	id := factory.JobID()
	_, err = exports.Create(id, group, "s3://dips/batch-7", "v3")
	require.NoError(t, err)

	n, err = exports.CountUnfinished(group)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Other groups are unaffected.
	n, err = exports.CountUnfinished("https://storage.example.org/groups/ag-2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	result, err := json.Marshal(models.Snapshot{Destination: "s3://dips/batch-7"})
	require.NoError(t, err)
	_, err = exports.Finish(id, result)
	require.NoError(t, err)

	n, err = exports.CountUnfinished(group)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFinish(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	id := factory.JobID()
	_, err := exports.Create(id, group, "s3://dips/batch-7", "v3")
	require.NoError(t, err)

	result, err := json.Marshal(models.Snapshot{
		Destination: "s3://dips/batch-7",
		Counts:      models.ResultCounts{BinariesAdded: 12},
	})
	require.NoError(t, err)
	finished, err := exports.Finish(id, result)
	require.NoError(t, err)
	assert.True(t, finished.DateFinished.Valid)
	assert.JSONEq(t, string(result), string(finished.Result))

	// Finished rows are immutable.
	_, err = exports.Finish(id, result)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.Classify(err).Code)

	// Finishing a row that was never created reports not found.
	_, err = exports.Finish(factory.JobID(), result)
	assert.Equal(t, exports.ErrNotFound, err)
}
