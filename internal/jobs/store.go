package jobs

import (
	"context"
	"time"

	"subwatch/internal/types"
)

// JobStore persists job state. Transitions out of pending/retrying are
// conditional so that only one delivery of a job runs it at a time.
// db.JobRepository and MemoryStore implement it.
//
// MarkRunning claims a job that is due (not_before <= now) and pending,
// retrying or held by a claim older than staleBefore. It returns the stored
// attempt count, which is authoritative over the one carried by a message.
// Reject moves an unclaimed or stale job straight to dead.
type JobStore interface {
	Insert(ctx context.Context, job *types.Job) error
	MarkRunning(ctx context.Context, id string, now, staleBefore time.Time) (attempt int, claimed bool, err error)
	MarkCompleted(ctx context.Context, id string, finishedAt time.Time, result types.JobResult) error
	MarkRetrying(ctx context.Context, id string, attempt int, notBefore time.Time, lastErr string) error
	MarkDead(ctx context.Context, id string, attempt int, finishedAt time.Time, lastErr string) error
	Reject(ctx context.Context, id string, finishedAt, staleBefore time.Time, lastErr string) (attempt int, rejected bool, err error)
	Get(ctx context.Context, id string) (*types.Job, error)
	ListByState(ctx context.Context, state types.JobState, limit int) ([]*types.Job, error)
	Prune(ctx context.Context, class types.JobClass, state types.JobState, keep int) (int, error)
}
