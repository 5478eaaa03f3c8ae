package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subwatch/internal/queue"
	"subwatch/internal/types"
)

// AuditAppender writes entries to the audit ledger.
type AuditAppender interface {
	Append(ctx context.Context, e *types.AuditEntry) error
}

// ExecutorConfig holds the Executor's dependencies. Audit, Metrics, Clock
// and Logger are optional.
type ExecutorConfig struct {
	Store    JobStore
	Queue    queue.JobQueue
	Handlers Handlers
	Audit    AuditAppender
	Metrics  Metrics
	Clock    types.Clock

	// RunningLease is how long a claim is honored before another delivery
	// may take the job over.
	RunningLease time.Duration
	Logger       *slog.Logger
}

// Executor runs delivered jobs and drives their state machine:
//
//	pending -> running -> completed | retrying | dead
//	retrying -> running
type Executor struct {
	store    JobStore
	queue    queue.JobQueue
	handlers Handlers
	audit    AuditAppender
	metrics  Metrics
	clock    types.Clock
	lease    time.Duration
	logger   *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		store:    cfg.Store,
		queue:    cfg.Queue,
		handlers: cfg.Handlers,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		lease:    cfg.RunningLease,
		logger:   cfg.Logger,
	}
	if e.metrics == nil {
		e.metrics = NopMetrics{}
	}
	if e.clock == nil {
		e.clock = types.RealClock{}
	}
	if e.lease <= 0 {
		e.lease = 5 * time.Minute
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Run executes one delivery of job and returns the state it left the job in.
// A non-nil error means the delivery could not be settled (store or queue
// unavailable) and should be redelivered.
//
// The stored record, not the message, decides whether the job is due and
// which attempt this is: a redelivered or duplicated message carrying an
// older attempt cannot skip the backoff or reset the retry count.
func (e *Executor) Run(ctx context.Context, job *types.Job) (types.JobState, error) {
	now := e.clock.Now()
	logger := e.logger.With("job_id", job.ID, "class", string(job.Class))

	if now.Before(job.NotBefore) {
		return e.postpone(ctx, job, logger)
	}

	policy, err := PolicyFor(job.Class)
	if err != nil {
		return "", err
	}

	attempt, claimed, err := e.store.MarkRunning(ctx, job.ID, now, now.Add(-e.lease))
	if err != nil {
		return "", fmt.Errorf("claiming job %s: %w", job.ID, err)
	}
	if !claimed {
		return e.unclaimed(ctx, job, now, logger)
	}

	run := *job
	run.Attempt = attempt
	logger = logger.With("attempt", attempt)

	ctx = types.WithJobID(ctx, run.ID)
	result, handleErr := e.dispatch(ctx, &run, now)

	finished := e.clock.Now()
	e.metrics.RecordLatency(ctx, run.Class, finished.Sub(now))

	state, err := e.settle(ctx, &run, policy, result, handleErr, finished, logger)
	if err == nil {
		e.metrics.RecordOutcome(ctx, run.Class, state)
	}
	return state, err
}

// postpone puts an early delivery back on the queue until its not_before.
func (e *Executor) postpone(ctx context.Context, job *types.Job, logger *slog.Logger) (types.JobState, error) {
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return types.JobPending, fmt.Errorf("deferring early job %s: %w", job.ID, err)
	}
	logger.DebugContext(ctx, "job deferred until not_before", "not_before", job.NotBefore)
	if job.State == "" {
		return types.JobPending, nil
	}
	return job.State, nil
}

// unclaimed handles a delivery the store refused: the job is not yet due by
// its stored not_before, another delivery owns it, or it already finished.
// A job still waiting for its backoff is deferred from the stored record so
// a stale message is replaced by a current one.
func (e *Executor) unclaimed(ctx context.Context, job *types.Job, now time.Time, logger *slog.Logger) (types.JobState, error) {
	stored, err := e.store.Get(ctx, job.ID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundJob) {
			logger.WarnContext(ctx, "delivered job has no record, dropping")
			return types.JobCompleted, nil
		}
		return "", err
	}

	waiting := stored.State == types.JobPending || stored.State == types.JobRetrying
	if waiting && now.Before(stored.NotBefore) {
		next := *job
		next.Attempt = stored.Attempt
		next.NotBefore = stored.NotBefore
		next.State = stored.State
		next.LastError = stored.LastError
		logger.InfoContext(ctx, "stale delivery rescheduled from stored record",
			"message_attempt", job.Attempt,
			"stored_attempt", stored.Attempt,
		)
		return e.postpone(ctx, &next, logger)
	}

	logger.InfoContext(ctx, "duplicate delivery ignored", "state", string(stored.State))
	return stored.State, nil
}

// Reject marks a job dead without running it, for a delivery whose envelope
// names a job but cannot be decoded. The job_dead audit entry records cause.
// A job that already finished, or that a live delivery owns, is left alone.
func (e *Executor) Reject(ctx context.Context, id string, class types.JobClass, cause error) (types.JobState, error) {
	now := e.clock.Now()
	logger := e.logger.With("job_id", id, "class", string(class))

	attempt, rejected, err := e.store.Reject(ctx, id, now, now.Add(-e.lease), cause.Error())
	if err != nil {
		return "", fmt.Errorf("rejecting job %s: %w", id, err)
	}
	if !rejected {
		logger.InfoContext(ctx, "rejection skipped, job finished or owned by a live delivery")
		return "", nil
	}

	logger.ErrorContext(ctx, "job dead", "error", cause, "failed_attempts", attempt)
	e.recordDead(ctx, id, class, attempt, cause, now, logger)
	e.metrics.RecordOutcome(ctx, class, types.JobDead)

	if policy, err := PolicyFor(class); err == nil {
		e.prune(ctx, class, types.JobDead, policy.KeepDead, logger)
	}
	return types.JobDead, nil
}

func (e *Executor) dispatch(ctx context.Context, job *types.Job, now time.Time) (types.JobResult, error) {
	switch p := job.Payload.(type) {
	case types.ExpireSubscriptionPayload:
		if e.handlers.Expire != nil {
			return e.handlers.Expire.Handle(ctx, p, now)
		}
	case types.ExpiryWarningPayload:
		if e.handlers.Warning != nil {
			return e.handlers.Warning.Handle(ctx, p, now)
		}
	case types.CleanupPayload:
		if e.handlers.Cleanup != nil {
			return e.handlers.Cleanup.Handle(ctx, p, now)
		}
	}
	return nil, types.NewAppError(types.ErrCodeConfiguration,
		fmt.Sprintf("no handler for job class %q", job.Class), nil)
}

func (e *Executor) settle(
	ctx context.Context,
	job *types.Job,
	policy RetryPolicy,
	result types.JobResult,
	handleErr error,
	finished time.Time,
	logger *slog.Logger,
) (types.JobState, error) {
	switch {
	case handleErr == nil:
		return e.complete(ctx, job, policy, result, finished, logger)

	case types.HasCode(handleErr, types.ErrCodeConfiguration):
		return e.kill(ctx, job, policy, job.Attempt, handleErr, finished, logger)

	case !types.IsRetryable(handleErr):
		logger.InfoContext(ctx, "job skipped", "reason", handleErr.Error())
		return e.complete(ctx, job, policy, result, finished, logger)
	}

	attempt := job.Attempt + 1
	if attempt >= policy.MaxAttempts {
		return e.kill(ctx, job, policy, attempt, handleErr, finished, logger)
	}

	notBefore := finished.Add(policy.Delay(attempt))
	if err := e.store.MarkRetrying(ctx, job.ID, attempt, notBefore, handleErr.Error()); err != nil {
		return "", err
	}

	next := *job
	next.Attempt = attempt
	next.NotBefore = notBefore
	next.State = types.JobRetrying
	next.LastError = handleErr.Error()
	if err := e.queue.Enqueue(ctx, &next); err != nil {
		return types.JobRetrying, fmt.Errorf("re-enqueueing job %s: %w", job.ID, err)
	}

	logger.WarnContext(ctx, "job failed, retry scheduled",
		"error", handleErr,
		"next_attempt", attempt,
		"not_before", notBefore,
	)
	return types.JobRetrying, nil
}

func (e *Executor) complete(ctx context.Context, job *types.Job, policy RetryPolicy, result types.JobResult, finished time.Time, logger *slog.Logger) (types.JobState, error) {
	if err := e.store.MarkCompleted(ctx, job.ID, finished, result); err != nil {
		return "", err
	}
	logger.InfoContext(ctx, "job completed", "result", result)
	e.prune(ctx, job.Class, types.JobCompleted, policy.KeepCompleted, logger)
	return types.JobCompleted, nil
}

func (e *Executor) kill(ctx context.Context, job *types.Job, policy RetryPolicy, attempt int, cause error, finished time.Time, logger *slog.Logger) (types.JobState, error) {
	if err := e.store.MarkDead(ctx, job.ID, attempt, finished, cause.Error()); err != nil {
		return "", err
	}

	logger.ErrorContext(ctx, "job dead",
		"error", cause,
		"failed_attempts", attempt,
		"payload", job.Payload,
	)
	e.recordDead(ctx, job.ID, job.Class, attempt, cause, finished, logger)

	e.prune(ctx, job.Class, types.JobDead, policy.KeepDead, logger)
	return types.JobDead, nil
}

func (e *Executor) recordDead(ctx context.Context, id string, class types.JobClass, attempt int, cause error, finished time.Time, logger *slog.Logger) {
	if e.audit == nil {
		return
	}
	entry := &types.AuditEntry{
		Timestamp: finished,
		SubjectID: id,
		Action:    types.AuditJobDead,
		Success:   false,
		Severity:  types.SeverityError,
		Metadata: types.Metadata{
			"class":   string(class),
			"attempt": attempt,
			"error":   cause.Error(),
		},
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "failed to audit dead job", "error", err)
	}
}

func (e *Executor) prune(ctx context.Context, class types.JobClass, state types.JobState, keep int, logger *slog.Logger) {
	n, err := e.store.Prune(ctx, class, state, keep)
	if err != nil {
		logger.WarnContext(ctx, "failed to prune job records", "state", string(state), "error", err)
		return
	}
	if n > 0 {
		logger.DebugContext(ctx, "pruned job records", "state", string(state), "deleted", n)
	}
}
