package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"subwatch/internal/types"
)

// MemoryQueue is an in-process JobQueue. Jobs are held until Due is called
// with a time at or after their NotBefore.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []*types.Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue stores a copy of the job.
func (q *MemoryQueue) Enqueue(_ context.Context, job *types.Job) error {
	cp := *job
	q.mu.Lock()
	q.jobs = append(q.jobs, &cp)
	q.mu.Unlock()
	return nil
}

// Due removes and returns the jobs whose NotBefore is at or before now,
// ordered by NotBefore.
func (q *MemoryQueue) Due(now time.Time) []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due, rest []*types.Job
	for _, j := range q.jobs {
		if j.NotBefore.After(now) {
			rest = append(rest, j)
		} else {
			due = append(due, j)
		}
	}
	q.jobs = rest

	sort.SliceStable(due, func(a, b int) bool {
		return due[a].NotBefore.Before(due[b].NotBefore)
	})
	return due
}

// Len returns the number of queued jobs, due or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Next returns the earliest NotBefore among queued jobs.
func (q *MemoryQueue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next time.Time
	for i, j := range q.jobs {
		if i == 0 || j.NotBefore.Before(next) {
			next = j.NotBefore
		}
	}
	return next, len(q.jobs) > 0
}
