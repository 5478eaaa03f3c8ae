package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"subwatch/internal/queue"
	"subwatch/internal/types"
)

// Scheduler creates jobs. The class, attempt budget and backoff come from the
// payload variant's policy.
type Scheduler struct {
	store  JobStore
	queue  queue.JobQueue
	clock  types.Clock
	newID  func() string
	logger *slog.Logger
}

// NewScheduler creates a Scheduler. A nil clock uses the system clock and a
// nil logger uses slog.Default().
func NewScheduler(store JobStore, q queue.JobQueue, clock types.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		queue:  q,
		clock:  clock,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Enqueue persists a pending job and hands it to the queue. A notBefore in
// the past is clamped to now. Returns the job ID.
func (s *Scheduler) Enqueue(ctx context.Context, payload types.JobPayload, notBefore time.Time) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	policy, err := PolicyFor(payload.Class())
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	if notBefore.Before(now) {
		notBefore = now
	}

	job := &types.Job{
		ID:          s.newID(),
		Class:       payload.Class(),
		Payload:     payload,
		Attempt:     0,
		MaxAttempts: policy.MaxAttempts,
		NotBefore:   notBefore,
		CreatedAt:   now,
		State:       types.JobPending,
	}

	if err := s.store.Insert(ctx, job); err != nil {
		return "", types.NewAppError(types.ErrCodeTransientIO, "failed to persist job", err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", types.NewAppError(types.ErrCodeTransientIO, "failed to enqueue job", err)
	}

	s.logger.InfoContext(ctx, "job scheduled",
		"job_id", job.ID,
		"class", string(job.Class),
		"not_before", job.NotBefore,
	)
	return job.ID, nil
}
