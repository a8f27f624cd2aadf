package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/affdash/internal/constants"
)

type accountLock struct {
	jobID     string
	expiresAt time.Time
}

// MemoryJobStore 进程内任务状态存储
type MemoryJobStore struct {
	mu              sync.Mutex
	jobs            map[string]*Job
	completed       []string
	failed          []string
	locks           map[uint]accountLock
	retainCompleted int
	retainFailed    int
	now             func() time.Time
}

// NewMemoryJobStore 创建进程内任务存储
func NewMemoryJobStore(retainCompleted, retainFailed int) *MemoryJobStore {
	return &MemoryJobStore{
		jobs:            make(map[string]*Job),
		locks:           make(map[uint]accountLock),
		retainCompleted: retainCompleted,
		retainFailed:    retainFailed,
		now:             time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryJobStore) MarkActive(_ context.Context, id string, attempt int) error {
	return s.update(id, func(job *Job) {
		job.State = constants.JobStateActive
		job.Attempts = attempt
		job.Progress = 0
	})
}

func (s *MemoryJobStore) SetProgress(_ context.Context, id string, progress int) error {
	return s.update(id, func(job *Job) {
		job.Progress = progress
	})
}

func (s *MemoryJobStore) MarkWaiting(_ context.Context, id string, reason string) error {
	return s.update(id, func(job *Job) {
		job.State = constants.JobStateWaiting
		job.Error = reason
	})
}

func (s *MemoryJobStore) MarkCompleted(_ context.Context, id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(id, func(job *Job) {
		job.State = constants.JobStateCompleted
		job.Progress = constants.ProgressDone
		job.Result = result
		job.Error = ""
	})
	s.completed = s.retainLocked(append(s.completed, id), s.retainCompleted)
	return nil
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(id, func(job *Job) {
		job.State = constants.JobStateFailed
		job.Error = reason
	})
	s.failed = s.retainLocked(append(s.failed, id), s.retainFailed)
	return nil
}

func (s *MemoryJobStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) AcquireAccount(_ context.Context, accountID uint, jobID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if current, ok := s.locks[accountID]; ok && now.Before(current.expiresAt) && current.jobID != jobID {
		return current.jobID, false, nil
	}
	s.locks[accountID] = accountLock{jobID: jobID, expiresAt: now.Add(ttl)}
	return jobID, true, nil
}

func (s *MemoryJobStore) ReleaseAccount(_ context.Context, accountID uint, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.locks[accountID]; ok && current.jobID == jobID {
		delete(s.locks, accountID)
	}
	return nil
}

func (s *MemoryJobStore) update(id string, fn func(job *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	fn(job)
	job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryJobStore) finishLocked(id string, fn func(job *Job)) {
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	fn(job)
	now := s.now()
	job.UpdatedAt = now
	job.FinishedAt = &now
}

// retainLocked 只保留最近 limit 个终态任务，淘汰的任务不可再查询
func (s *MemoryJobStore) retainLocked(ids []string, limit int) []string {
	if limit <= 0 || len(ids) <= limit {
		return ids
	}
	evicted := ids[:len(ids)-limit]
	for _, id := range evicted {
		delete(s.jobs, id)
	}
	return append([]string(nil), ids[len(ids)-limit:]...)
}
