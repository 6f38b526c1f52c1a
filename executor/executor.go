// Package executor drains the job queues: it loads each delivered job from
// the record store, runs it, persists the outcome and settles the delivery.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/Shyp/go-types"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/queue"
	"github.com/arkstead/keepsake/runner"
	"github.com/arkstead/keepsake/services"
)

// DequeueWait bounds each blocking dequeue, so workers notice shutdown and
// the due-message mover promptly.
var DequeueWait = 5 * time.Second

// MoveDueInterval is how often released messages are checked for promotion
// back onto the ready queue.
var MoveDueInterval = time.Second

// HeartbeatInterval is how often a worker refreshes updated_at on the job it
// is running. Must stay well under every kind's stuck-after threshold, or
// the watchdog will reclaim jobs whose executor is still live.
var HeartbeatInterval = time.Minute

// Executor runs a worker pool per job kind, sized by the kind's policy.
type Executor struct {
	Store   services.JobStore
	Queue   queue.Queue
	Runners runner.Set
	Policy  *config.Policy
	Logger  *zap.Logger
}

// Run starts the worker pools and the due-message movers, and blocks until
// ctx is canceled and every worker has returned. In-flight jobs run to
// completion; anything unsettled at exit is reclaimed later by the watchdog.
func (e *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, kind := range models.Kinds {
		pol := e.Policy.For(string(kind))
		e.Logger.Info("starting workers",
			zap.String("kind", string(kind)),
			zap.Int("concurrency", pol.Concurrency))
		for i := 0; i < pol.Concurrency; i++ {
			wg.Add(1)
			go func(kind models.JobKind) {
				defer wg.Done()
				e.work(ctx, kind)
			}(kind)
		}
		wg.Add(1)
		go func(kind models.JobKind) {
			defer wg.Done()
			e.moveDue(ctx, kind)
		}(kind)
	}
	wg.Wait()
}

// 10ms * 2^10, about ten seconds between attempts at the cap.
var maxSleepMultiplier = math.Pow(2, 10)

func errorSleep(failures int) time.Duration {
	mult := math.Pow(2, float64(failures))
	if mult > maxSleepMultiplier {
		mult = maxSleepMultiplier
	}
	jitter := rand.Float64() / 2
	return time.Duration(10*mult*(1+jitter)) * time.Millisecond
}

func (e *Executor) work(ctx context.Context, kind models.JobKind) {
	failures := 0
	for ctx.Err() == nil {
		msg, err := e.Queue.Dequeue(ctx, kind, DequeueWait)
		if err != nil {
			failures++
			e.Logger.Error("dequeue failed",
				zap.String("kind", string(kind)), zap.Error(err))
			go metrics.Increment(fmt.Sprintf("dequeue.%s.error", kind))
			select {
			case <-ctx.Done():
			case <-time.After(errorSleep(failures)):
			}
			continue
		}
		failures = 0
		if msg == nil {
			continue
		}
		e.process(ctx, msg)
	}
}

func (e *Executor) moveDue(ctx context.Context, kind models.JobKind) {
	tick := time.NewTicker(MoveDueInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := e.Queue.MoveDue(ctx, kind); err != nil {
				e.Logger.Error("moving due messages failed",
					zap.String("kind", string(kind)), zap.Error(err))
			}
		}
	}
}

// process settles one delivery. Every path ends in exactly one of
// acknowledge, release or dead-letter.
func (e *Executor) process(ctx context.Context, msg *queue.Message) {
	start := time.Now()
	logger := e.Logger.With(
		zap.String("job_id", msg.JobID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("deliveries", msg.Deliveries))
	pol := e.Policy.For(string(msg.Kind))

	id, err := types.NewPrefixUUID(msg.JobID)
	if err != nil {
		logger.Error("message is not a job identifier, dead-lettering", zap.Error(err))
		e.settle(logger, e.Queue.DeadLetter(ctx, msg))
		return
	}

	job, err := e.Store.Get(id)
	if err != nil {
		if models.Classify(err).Code == models.CodeNotFound {
			// A message with no row can never execute. Drop it rather
			// than redeliver forever.
			logger.Error("no job row for delivered identifier, dropping message")
			e.settle(logger, e.Queue.Acknowledge(ctx, msg))
			return
		}
		logger.Error("loading job failed", zap.Error(err))
		e.settle(logger, e.Queue.Release(ctx, msg, pol.Backoff(msg.Deliveries)))
		return
	}
	if job.Status.Terminal() {
		// Duplicate delivery of finished work.
		logger.Info("job already finished, dropping duplicate delivery",
			zap.String("status", string(job.Status)))
		go metrics.Increment(fmt.Sprintf("process.%s.duplicate", msg.Kind))
		e.settle(logger, e.Queue.Acknowledge(ctx, msg))
		return
	}

	begun, err := e.Store.Begin(job.ID)
	if err != nil {
		if models.Classify(err).Code == models.CodeConflict {
			// Another executor holds the job. Its own delivery settles
			// its run; this one is surplus.
			logger.Info("job already running elsewhere, dropping duplicate delivery")
			e.settle(logger, e.Queue.Acknowledge(ctx, msg))
			return
		}
		logger.Error("marking job running failed", zap.Error(err))
		e.settle(logger, e.Queue.Release(ctx, msg, pol.Backoff(msg.Deliveries)))
		return
	}

	r, err := e.Runners.For(begun.Kind)
	if err != nil {
		e.fail(ctx, logger, msg, begun, models.Classify(err))
		return
	}

	// Keep updated_at fresh while the runner works, so the stuck-job sweep
	// can tell a long-running job from an abandoned one. The heartbeat
	// outlives ctx: in-flight jobs run to completion during shutdown and
	// must stay claimed until they settle.
	hbStop := make(chan struct{})
	hbDone := make(chan struct{})
	go e.heartbeat(logger, begun.ID, hbStop, hbDone)

	snap, rerr := r.Execute(ctx, begun)
	close(hbStop)
	<-hbDone
	if rerr == nil {
		body, merr := json.Marshal(snap)
		if merr != nil {
			e.fail(ctx, logger, msg, begun, models.NewUnknown(merr))
			return
		}
		if _, ferr := e.Store.Finish(begun.ID, models.StatusCompleted, body); ferr != nil {
			if models.Classify(ferr).Code == models.CodeConflict {
				logger.Warn("job finished concurrently, dropping duplicate delivery")
				e.settle(logger, e.Queue.Acknowledge(ctx, msg))
				return
			}
			logger.Error("persisting completion failed", zap.Error(ferr))
			e.settle(logger, e.Queue.Release(ctx, msg, pol.Backoff(msg.Deliveries)))
			return
		}
		e.settle(logger, e.Queue.Acknowledge(ctx, msg))
		logger.Info("job completed", zap.Duration("elapsed", time.Since(start)))
		go metrics.Time(fmt.Sprintf("process.%s.latency", msg.Kind), time.Since(start))
		go metrics.Increment(fmt.Sprintf("process.%s.completed", msg.Kind))
		return
	}

	terr := models.Classify(rerr)
	if !terr.Retryable {
		e.fail(ctx, logger, msg, begun, terr)
		return
	}
	if msg.Deliveries >= pol.MaxDeliveries {
		logger.Error("job exhausted its deliveries, dead-lettering",
			zap.Int("max_deliveries", pol.MaxDeliveries),
			zap.Error(terr))
		e.finishFailed(logger, begun, snap, terr)
		e.settle(logger, e.Queue.DeadLetter(ctx, msg))
		go metrics.Increment(fmt.Sprintf("process.%s.dead", msg.Kind))
		return
	}

	// Retryable and deliveries remain: back to waiting, redeliver after
	// backoff. A partial snapshot rides along so the retry sees it.
	var partial json.RawMessage
	if snap != nil {
		partial, _ = json.Marshal(snap)
	}
	if _, qerr := e.Store.Requeue(begun.ID, partial); qerr != nil {
		logger.Error("requeueing job failed", zap.Error(qerr))
	}
	delay := pol.Backoff(msg.Deliveries)
	logger.Warn("job failed, will retry",
		zap.Duration("delay", delay),
		zap.Error(terr))
	e.settle(logger, e.Queue.Release(ctx, msg, delay))
	go metrics.Increment(fmt.Sprintf("process.%s.retried", msg.Kind))
}

// heartbeat refreshes the running job's claim every HeartbeatInterval until
// stop is closed. A Conflict means the row left the running state under us
// (the watchdog requeued it, or another executor finished it); the runner's
// own Finish or Requeue will surface that, so the heartbeat just stops.
func (e *Executor) heartbeat(logger *zap.Logger, id types.PrefixUUID, stop, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(HeartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if _, err := e.Store.Heartbeat(id); err != nil {
				if models.Classify(err).Code == models.CodeConflict {
					logger.Warn("job left the running state mid-execution", zap.Error(err))
					return
				}
				logger.Error("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// fail finishes the job as failed with the error recorded in its snapshot
// and drops the delivery.
func (e *Executor) fail(ctx context.Context, logger *zap.Logger, msg *queue.Message, job *models.Job, terr *models.Error) {
	e.finishFailed(logger, job, nil, terr)
	e.settle(logger, e.Queue.Acknowledge(ctx, msg))
	logger.Warn("job failed", zap.String("code", string(terr.Code)), zap.Error(terr))
	go metrics.Increment(fmt.Sprintf("process.%s.failed", msg.Kind))
}

func (e *Executor) finishFailed(logger *zap.Logger, job *models.Job, snap *models.Snapshot, terr *models.Error) {
	if snap == nil {
		snap = new(models.Snapshot)
	}
	snap.Errors = append(snap.Errors, *terr)
	body, merr := json.Marshal(snap)
	if merr != nil {
		body = nil
	}
	if _, err := e.Store.Finish(job.ID, models.StatusFailed, body); err != nil {
		logger.Error("persisting failure failed", zap.Error(err))
	}
}

func (e *Executor) settle(logger *zap.Logger, err error) {
	if err != nil {
		logger.Error("settling delivery failed", zap.Error(err))
	}
}
