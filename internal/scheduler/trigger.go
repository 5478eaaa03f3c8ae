package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"subwatch/internal/types"
)

// DefaultLockTTL covers a slow scan with margin.
const DefaultLockTTL = 15 * time.Minute

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, task string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// TriggerConfig holds the Trigger dependencies.
type TriggerConfig struct {
	Scanner  *Scanner
	Enqueuer Enqueuer
	Locks    JobLocker
	History  JobHistorian
	Clock    types.Clock
	WorkerID string
	LockTTL  time.Duration
	Logger   *slog.Logger
}

// Trigger runs one task per invocation under an hourly job lock, so at-least
// once delivery of the same trigger within an hour runs the task once.
type Trigger struct {
	cfg    TriggerConfig
	logger *slog.Logger
}

func NewTrigger(cfg TriggerConfig) *Trigger {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Trigger{cfg: cfg, logger: cfg.Logger}
}

// LockID returns the job lock key for a task fired at now.
func LockID(task TaskType, now time.Time) string {
	return fmt.Sprintf("%s:%s", task, now.UTC().Truncate(time.Hour).Format("2006-01-02T15"))
}

// RunResult summarizes one trigger invocation.
type RunResult struct {
	Task    TaskType
	LockID  string
	Skipped bool
	Items   int
	Report  ScanReport
}

// Run executes payload.Task:
//  1. Acquire the job lock; a held lock skips the run.
//  2. Record the start in task history.
//  3. Dispatch the task.
//  4. Record completion with status and item count.
func (t *Trigger) Run(ctx context.Context, payload TaskPayload) (RunResult, error) {
	now := t.cfg.Clock.Now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	if _, err := ParseTaskType(string(payload.Task)); err != nil {
		return RunResult{Task: payload.Task}, types.NewAppError(types.ErrCodeConfiguration, err.Error(), nil)
	}

	logger := t.logger.With("task", payload.Task, "reference_time", now.Format(time.RFC3339))
	res := RunResult{Task: payload.Task, LockID: LockID(payload.Task, now)}

	acquired, err := t.cfg.Locks.Acquire(ctx, res.LockID, t.cfg.WorkerID, t.cfg.LockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", res.LockID, "error", err)
		return res, fmt.Errorf("acquiring job lock %s: %w", res.LockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker, skipping", "lock_id", res.LockID)
		res.Skipped = true
		return res, nil
	}

	historyID, err := t.cfg.History.Start(ctx, string(payload.Task))
	if err != nil {
		// History is for operators only; the task still runs.
		logger.ErrorContext(ctx, "failed to start task history", "error", err)
		historyID = 0
	}

	report, runErr := t.dispatch(ctx, payload.Task, now)
	res.Report = report
	res.Items = report.Enqueued()

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if historyID != 0 {
		if err := t.cfg.History.Finish(ctx, historyID, status, res.Items, runErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish task history", "history_id", historyID, "error", err)
		}
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "task failed", "items_before_error", res.Items, "error", runErr)
		return res, fmt.Errorf("task %s failed: %w", payload.Task, runErr)
	}
	logger.InfoContext(ctx, "task complete", "items", res.Items)
	return res, nil
}

func (t *Trigger) dispatch(ctx context.Context, task TaskType, now time.Time) (ScanReport, error) {
	switch task {
	case TaskScanNearExpiry:
		near, nearErr := t.cfg.Scanner.ScanNearExpiry(ctx, now)
		overdue, overdueErr := t.cfg.Scanner.ScanOverdue(ctx, now)
		report := ScanReport{Thresholds: append(near.Thresholds, overdue.Thresholds...)}
		return report, errors.Join(nearErr, overdueErr)

	case TaskScanWarnings:
		report := t.cfg.Scanner.ScanWarnings(ctx, now)
		return report, report.Err()

	case TaskCleanup:
		return t.enqueueCleanup(ctx, now)

	default:
		return ScanReport{}, types.NewAppError(types.ErrCodeConfiguration, fmt.Sprintf("unknown task %q", task), nil)
	}
}

func (t *Trigger) enqueueCleanup(ctx context.Context, now time.Time) (ScanReport, error) {
	tr := ThresholdReport{Window: "cleanup", Found: len(types.CleanupTargets)}
	var errs []error
	for _, target := range types.CleanupTargets {
		id, err := t.cfg.Enqueuer.Enqueue(ctx, types.CleanupPayload{Target: target}, now)
		if err != nil {
			tr.Failed++
			errs = append(errs, fmt.Errorf("enqueue cleanup %s: %w", target, err))
			continue
		}
		tr.Enqueued++
		t.logger.InfoContext(ctx, "cleanup job enqueued", "target", target, "job_id", id)
	}
	tr.Err = errors.Join(errs...)
	return ScanReport{Thresholds: []ThresholdReport{tr}}, tr.Err
}
