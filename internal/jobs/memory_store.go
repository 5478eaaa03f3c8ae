package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"subwatch/internal/types"
)

var _ JobStore = (*MemoryStore)(nil)

// MemoryStore is an in-process JobStore with the same transition rules as
// the Postgres repository.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*types.Job)}
}

func (s *MemoryStore) Insert(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	cp := *job
	cp.State = types.JobPending
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string, now, staleBefore time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || now.Before(j.NotBefore) || !claimable(j, staleBefore) {
		return 0, false, nil
	}
	j.State = types.JobRunning
	j.StartedAt = &now
	j.FinishedAt = nil
	return j.Attempt, true, nil
}

func (s *MemoryStore) Reject(_ context.Context, id string, finishedAt, staleBefore time.Time, lastErr string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !claimable(j, staleBefore) {
		return 0, false, nil
	}
	j.State = types.JobDead
	j.FinishedAt = &finishedAt
	j.LastError = lastErr
	return j.Attempt, true, nil
}

func claimable(j *types.Job, staleBefore time.Time) bool {
	switch j.State {
	case types.JobPending, types.JobRetrying:
		return true
	case types.JobRunning:
		return j.StartedAt != nil && j.StartedAt.Before(staleBefore)
	default:
		return false
	}
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id string, finishedAt time.Time, result types.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.running(id); ok {
		j.State = types.JobCompleted
		j.FinishedAt = &finishedAt
		j.Result = result
		j.LastError = ""
	}
	return nil
}

func (s *MemoryStore) MarkRetrying(_ context.Context, id string, attempt int, notBefore time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.running(id); ok {
		j.State = types.JobRetrying
		j.Attempt = attempt
		j.NotBefore = notBefore
		j.LastError = lastErr
		j.StartedAt = nil
	}
	return nil
}

func (s *MemoryStore) MarkDead(_ context.Context, id string, attempt int, finishedAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.running(id); ok {
		j.State = types.JobDead
		j.Attempt = attempt
		j.FinishedAt = &finishedAt
		j.LastError = lastErr
	}
	return nil
}

func (s *MemoryStore) running(id string) (*types.Job, bool) {
	j, ok := s.jobs[id]
	if !ok || j.State != types.JobRunning {
		return nil, false
	}
	return j, true
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %s not found", id), nil)
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListByState(_ context.Context, state types.JobState, limit int) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Job
	for _, j := range s.jobs {
		if j.State == state {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, class types.JobClass, state types.JobState, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*types.Job
	for _, j := range s.jobs {
		if j.Class == class && j.State == state {
			matched = append(matched, j)
		}
	}
	if len(matched) <= keep {
		return 0, nil
	}
	sort.Slice(matched, func(a, b int) bool {
		fa, fb := finishedOrZero(matched[a]), finishedOrZero(matched[b])
		if !fa.Equal(fb) {
			return fa.After(fb)
		}
		return matched[a].ID > matched[b].ID
	})
	for _, j := range matched[keep:] {
		delete(s.jobs, j.ID)
	}
	return len(matched) - keep, nil
}

func finishedOrZero(j *types.Job) time.Time {
	if j.FinishedAt == nil {
		return time.Time{}
	}
	return *j.FinishedAt
}
