package services

import (
	"context"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/queue"
)

// A Watchdog recovers jobs stranded in the running state by a dead executor:
// it moves them back to waiting and re-enqueues their identifiers, so a live
// executor picks them up again.
type Watchdog struct {
	Store  JobStore
	Queue  queue.Queue
	Policy *config.Policy
	Logger *zap.Logger
}

// RequeueStuckJobs sweeps once. Each kind uses its own stuck-after cutoff
// from the policy. Errors on individual jobs are logged and skipped: a
// requeue can race a still-live executor finishing the job, and the loser
// of that race is not a problem.
func (w *Watchdog) RequeueStuckJobs(ctx context.Context) error {
	for _, kind := range models.Kinds {
		cutoff := time.Now().Add(-w.Policy.For(string(kind)).StuckAfter)
		stuck, err := w.Store.GetStuckRunning(cutoff)
		if err != nil {
			return err
		}
		for _, job := range stuck {
			if job.Kind != kind {
				continue
			}
			if _, err := w.Store.Requeue(job.ID, nil); err != nil {
				w.Logger.Info("found stuck job but could not requeue it",
					zap.String("job_id", job.ID.String()),
					zap.Error(err))
				continue
			}
			if err := w.Queue.QueueRequest(ctx, job.Kind, job.ID.String()); err != nil {
				w.Logger.Error("requeued stuck job but enqueue failed",
					zap.String("job_id", job.ID.String()),
					zap.Error(err))
				continue
			}
			go metrics.Increment("jobs.stuck.requeued")
			w.Logger.Warn("requeued stuck job",
				zap.String("job_id", job.ID.String()),
				zap.String("kind", string(job.Kind)),
				zap.Time("cutoff", cutoff))
		}
	}
	return nil
}

// Watch sweeps for stuck jobs every interval until the context is canceled.
func (w *Watchdog) Watch(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := w.RequeueStuckJobs(ctx); err != nil {
				w.Logger.Error("stuck job sweep failed", zap.Error(err))
			}
		}
	}
}
