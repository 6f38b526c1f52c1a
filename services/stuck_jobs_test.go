package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/queue"
	"github.com/arkstead/keepsake/test/factory"
)

func TestWatchdogRequeuesStuckJobs(t *testing.T) {
	store := NewMemoryJobStore()
	q := queue.NewMemory()
	policy := config.Policy{}
	w := &Watchdog{Store: store, Queue: q, Policy: &policy, Logger: zap.NewNop()}

	// A running job last touched well past the stuck-after cutoff.
	stuck := factory.Job(models.KindImport, factory.ImportRequest(testGroup, "v1"))
	stuck.Status = models.StatusWaiting
	_, err := store.Create(stuck)
	require.NoError(t, err)
	_, err = store.Begin(stuck.ID)
	require.NoError(t, err)
	store.mu.Lock()
	store.rows[stuck.ID.String()].UpdatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	require.NoError(t, w.RequeueStuckJobs(context.Background()))

	job, err := store.Get(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, job.Status)
	assert.False(t, job.DateBegun.Valid)

	msg, err := q.Dequeue(context.Background(), models.KindImport, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, stuck.ID.String(), msg.JobID)
}

func TestWatchdogLeavesHeartbeatedJobs(t *testing.T) {
	store := NewMemoryJobStore()
	q := queue.NewMemory()
	policy := config.Policy{}
	w := &Watchdog{Store: store, Queue: q, Policy: &policy, Logger: zap.NewNop()}

	// A job that has run past the stuck-after cutoff, but whose executor
	// is alive and heartbeating. The sweep must not reclaim it: requeueing
	// a live job re-executes it and records a false terminal failure.
	slow := factory.Job(models.KindImport, factory.ImportRequest(testGroup, "v1"))
	slow.Status = models.StatusWaiting
	_, err := store.Create(slow)
	require.NoError(t, err)
	_, err = store.Begin(slow.ID)
	require.NoError(t, err)
	store.mu.Lock()
	store.rows[slow.ID.String()].UpdatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()
	_, err = store.Heartbeat(slow.ID)
	require.NoError(t, err)

	require.NoError(t, w.RequeueStuckJobs(context.Background()))

	job, err := store.Get(slow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, job.Status)
	assert.True(t, job.DateBegun.Valid)

	msg, err := q.Dequeue(context.Background(), models.KindImport, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestWatchdogLeavesFreshRunningJobs(t *testing.T) {
	store := NewMemoryJobStore()
	q := queue.NewMemory()
	policy := config.Policy{}
	w := &Watchdog{Store: store, Queue: q, Policy: &policy, Logger: zap.NewNop()}

	fresh := factory.Job(models.KindImport, factory.ImportRequest(testGroup, "v1"))
	fresh.Status = models.StatusWaiting
	_, err := store.Create(fresh)
	require.NoError(t, err)
	_, err = store.Begin(fresh.ID)
	require.NoError(t, err)

	require.NoError(t, w.RequeueStuckJobs(context.Background()))

	job, err := store.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, job.Status)

	msg, err := q.Dequeue(context.Background(), models.KindImport, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}
