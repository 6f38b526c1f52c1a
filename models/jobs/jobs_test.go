package jobs_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/db"
	"github.com/arkstead/keepsake/models/jobs"
	testdb "github.com/arkstead/keepsake/test/db"
	"github.com/arkstead/keepsake/test/factory"
)

const group = "https://storage.example.org/groups/ag-1"

func create(t *testing.T, kind models.JobKind) *models.Job {
	t.Helper()
	created, err := jobs.Create(factory.Job(kind, factory.ImportRequest(group, "v1")))
	require.NoError(t, err)
	return created
}

func TestCreateAndGet(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)
	assert.Equal(t, models.StatusWaiting, created.Status)
	assert.False(t, created.DateBegun.Valid)
	assert.False(t, created.DateFinished.Valid)

	got, err := jobs.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), got.ID.String())
	assert.Equal(t, models.KindImport, got.Kind)
	assert.Equal(t, group, got.ArchivalGroup)
	assert.JSONEq(t, string(created.Request), string(got.Request))

	_, err = jobs.Get(factory.JobID())
	assert.Equal(t, jobs.ErrNotFound, err)
}

func TestCreateDuplicateConflict(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	job := factory.Job(models.KindImport, factory.ImportRequest(group, "v1"))
	_, err := jobs.Create(job)
	require.NoError(t, err)
	_, err = jobs.Create(job)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.Classify(err).Code)
}

func TestLifecycle(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)

	begun, err := jobs.Begin(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, begun.Status)
	assert.True(t, begun.DateBegun.Valid)

	// A second Begin is a duplicate delivery.
	_, err = jobs.Begin(created.ID)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.Classify(err).Code)

	snap, err := json.Marshal(models.Snapshot{NewVersion: "v2"})
	require.NoError(t, err)
	finished, err := jobs.Finish(created.ID, models.StatusCompleted, snap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, finished.Status)
	assert.True(t, finished.DateFinished.Valid)
	assert.JSONEq(t, string(snap), string(finished.Result))

	// Terminal rows are immutable; a second Finish must fail loudly.
	_, err = jobs.Finish(created.ID, models.StatusFailed, nil)
	require.Error(t, err)
	terr := models.Classify(err)
	assert.Equal(t, models.CodeConflict, terr.Code)
	assert.Contains(t, terr.Message, "duplicate execution")
}

func TestFinishRequiresTerminalStatus(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)
	_, err := jobs.Finish(created.ID, models.StatusRunning, nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)
}

func TestRequeue(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)
	_, err := jobs.Begin(created.ID)
	require.NoError(t, err)

	snap, err := json.Marshal(models.Snapshot{NewVersion: "v2"})
	require.NoError(t, err)
	requeued, err := jobs.Requeue(created.ID, snap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, requeued.Status)
	assert.False(t, requeued.DateBegun.Valid)
	assert.JSONEq(t, string(snap), string(requeued.Result))

	// The job can be picked up again.
	_, err = jobs.Begin(created.ID)
	require.NoError(t, err)

	// Requeueing a waiting job is not permitted.
	_, err = jobs.Finish(created.ID, models.StatusCompleted, snap)
	require.NoError(t, err)
	_, err = jobs.Requeue(created.ID, nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.Classify(err).Code)
}

func TestGetForDeposit(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)

	got, err := jobs.GetForDeposit(created.DepositID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), got.ID.String())

	// The right job under the wrong deposit reads as absent.
	_, err = jobs.GetForDeposit("deposit-other", created.ID)
	assert.Equal(t, jobs.ErrNotFound, err)

	_, err = jobs.GetForDeposit(created.DepositID, factory.JobID())
	assert.Equal(t, jobs.ErrNotFound, err)
}

func TestGetRetry(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)
	got, err := jobs.GetRetry(created.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), got.ID.String())

	_, err = jobs.GetRetry(factory.JobID(), 3)
	assert.Equal(t, jobs.ErrNotFound, err)
}

func TestHeartbeat(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	created := create(t, models.KindImport)
	_, err := jobs.Begin(created.ID)
	require.NoError(t, err)
	_, err = db.Conn.Exec(
		"UPDATE deposit_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1",
		created.ID)
	require.NoError(t, err)

	// A heartbeat takes the job off the stuck-job sweep's radar.
	beat, err := jobs.Heartbeat(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, beat.Status)
	found, err := jobs.GetStuckRunning(time.Now().Add(-30 * time.Minute))
	require.NoError(t, err)
	assert.Empty(t, found)

	// Heartbeating a job that is no longer running is a Conflict.
	_, err = jobs.Finish(created.ID, models.StatusCompleted, nil)
	require.NoError(t, err)
	_, err = jobs.Heartbeat(created.ID)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.Classify(err).Code)
}

func TestGetByDeposit(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	first := create(t, models.KindPipeline)
	second := factory.Job(models.KindImport, factory.ImportRequest(group, "v1"))
	second.DepositID = first.DepositID
	_, err := jobs.Create(second)
	require.NoError(t, err)
	create(t, models.KindExport) // different deposit

	list, err := jobs.GetByDeposit(first.DepositID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID.String(), list[0].ID.String())
	assert.Equal(t, second.ID.String(), list[1].ID.String())
}

func TestGetStuckRunning(t *testing.T) {
	testdb.SetUp(t)
	defer testdb.TearDown(t)

	stuck := create(t, models.KindImport)
	_, err := jobs.Begin(stuck.ID)
	require.NoError(t, err)
	_, err = db.Conn.Exec(
		"UPDATE deposit_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1",
		stuck.ID)
	require.NoError(t, err)

	fresh := create(t, models.KindImport)
	_, err = jobs.Begin(fresh.ID)
	require.NoError(t, err)

	found, err := jobs.GetStuckRunning(time.Now().Add(-30 * time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.ID.String(), found[0].ID.String())
}
