// Package services holds the workflows that tie the record store, the queue
// and the repository together: submission, stuck-job recovery and external
// event intake.
package services

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Shyp/go-types"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/models/jobs"
)

// A JobStore is the job record store: the single source of truth for job
// state. Satisfied by DBStore and MemoryJobStore.
type JobStore interface {
	Create(job *models.Job) (*models.Job, error)
	Get(id types.PrefixUUID) (*models.Job, error)
	GetForDeposit(depositID string, id types.PrefixUUID) (*models.Job, error)
	GetByDeposit(depositID string) ([]*models.Job, error)
	Begin(id types.PrefixUUID) (*models.Job, error)
	Heartbeat(id types.PrefixUUID) (*models.Job, error)
	Finish(id types.PrefixUUID, status models.JobStatus, snapshot json.RawMessage) (*models.Job, error)
	Requeue(id types.PrefixUUID, snapshot json.RawMessage) (*models.Job, error)
	GetStuckRunning(olderThan time.Time) ([]*models.Job, error)
}

// DBStore backs JobStore with the deposit_jobs table.
type DBStore struct{}

func (DBStore) Create(job *models.Job) (*models.Job, error) { return jobs.Create(job) }

// Get retries transient load failures: a job is read immediately after its
// queue message arrives, and a read replica may lag the submit.
func (DBStore) Get(id types.PrefixUUID) (*models.Job, error) { return jobs.GetRetry(id, 3) }

func (DBStore) GetForDeposit(depositID string, id types.PrefixUUID) (*models.Job, error) {
	return jobs.GetForDeposit(depositID, id)
}

func (DBStore) GetByDeposit(depositID string) ([]*models.Job, error) {
	return jobs.GetByDeposit(depositID)
}

func (DBStore) Begin(id types.PrefixUUID) (*models.Job, error) { return jobs.Begin(id) }

func (DBStore) Heartbeat(id types.PrefixUUID) (*models.Job, error) { return jobs.Heartbeat(id) }

func (DBStore) Finish(id types.PrefixUUID, status models.JobStatus, snapshot json.RawMessage) (*models.Job, error) {
	return jobs.Finish(id, status, snapshot)
}

func (DBStore) Requeue(id types.PrefixUUID, snapshot json.RawMessage) (*models.Job, error) {
	return jobs.Requeue(id, snapshot)
}

func (DBStore) GetStuckRunning(olderThan time.Time) ([]*models.Job, error) {
	return jobs.GetStuckRunning(olderThan)
}

// MemoryJobStore is a process-local JobStore with the same transition guards
// as the database store, used in tests and development mode.
type MemoryJobStore struct {
	mu   sync.Mutex
	rows map[string]*models.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{rows: make(map[string]*models.Job)}
}

func copyJob(job *models.Job) *models.Job {
	dup := *job
	dup.Request = append(json.RawMessage(nil), job.Request...)
	dup.Result = append(json.RawMessage(nil), job.Result...)
	return &dup
}

func (s *MemoryJobStore) Create(job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := job.ID.String()
	if _, ok := s.rows[key]; ok {
		return nil, models.NewConflict("A job with id %s already exists", key)
	}
	dup := copyJob(job)
	now := time.Now().UTC()
	dup.CreatedAt = now
	dup.UpdatedAt = now
	s.rows[key] = dup
	return copyJob(dup), nil
}

func (s *MemoryJobStore) Get(id types.PrefixUUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id.String()]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryJobStore) GetForDeposit(depositID string, id types.PrefixUUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id.String()]
	if !ok || job.DepositID != depositID {
		return nil, jobs.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryJobStore) GetByDeposit(depositID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.rows {
		if job.DepositID == depositID {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DateSubmitted.Before(out[j].DateSubmitted)
	})
	return out, nil
}

func (s *MemoryJobStore) transition(id types.PrefixUUID, next models.JobStatus) (*models.Job, error) {
	job, ok := s.rows[id.String()]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if !job.Status.CanTransition(next) {
		if job.Status.Terminal() {
			return nil, models.NewConflict(
				"Job %s is already %s; a transition to %s indicates duplicate execution",
				id.String(), job.Status, next)
		}
		return nil, models.NewConflict("Job %s is %s, cannot transition to %s",
			id.String(), job.Status, next)
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	return job, nil
}

func (s *MemoryJobStore) Begin(id types.PrefixUUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.transition(id, models.StatusRunning)
	if err != nil {
		return nil, err
	}
	job.DateBegun = types.NullTime{Valid: true, Time: time.Now().UTC()}
	return copyJob(job), nil
}

func (s *MemoryJobStore) Heartbeat(id types.PrefixUUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id.String()]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if job.Status != models.StatusRunning {
		if job.Status.Terminal() {
			return nil, models.NewConflict(
				"Job %s is already %s; a transition to %s indicates duplicate execution",
				id.String(), job.Status, models.StatusRunning)
		}
		return nil, models.NewConflict("Job %s is %s, cannot transition to %s",
			id.String(), job.Status, models.StatusRunning)
	}
	job.UpdatedAt = time.Now().UTC()
	return copyJob(job), nil
}

func (s *MemoryJobStore) Finish(id types.PrefixUUID, status models.JobStatus, snapshot json.RawMessage) (*models.Job, error) {
	if !status.Terminal() {
		return nil, models.NewValidation("Cannot finish a job with status %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.transition(id, status)
	if err != nil {
		return nil, err
	}
	job.DateFinished = types.NullTime{Valid: true, Time: time.Now().UTC()}
	job.Result = append(json.RawMessage(nil), snapshot...)
	return copyJob(job), nil
}

func (s *MemoryJobStore) Requeue(id types.PrefixUUID, snapshot json.RawMessage) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.transition(id, models.StatusWaiting)
	if err != nil {
		return nil, err
	}
	job.DateBegun = types.NullTime{}
	if len(snapshot) > 0 {
		job.Result = append(json.RawMessage(nil), snapshot...)
	}
	return copyJob(job), nil
}

func (s *MemoryJobStore) GetStuckRunning(olderThan time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.rows {
		if job.Status == models.StatusRunning && job.UpdatedAt.Before(olderThan) {
			out = append(out, copyJob(job))
		}
	}
	return out, nil
}
