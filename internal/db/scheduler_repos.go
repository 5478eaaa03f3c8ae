package db

import (
	"context"
	"time"

	"subwatch/internal/types"
)

// ============================================================
// TriggerLockRepository
// ============================================================

// TriggerLockRepository provides distributed locking via the job_locks table
// so that a scheduled task runs at most once per trigger window, however many
// times the trigger is delivered.
type TriggerLockRepository struct {
	db    DBTX
	clock types.Clock
}

func NewTriggerLockRepository(db DBTX, clock types.Clock) *TriggerLockRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TriggerLockRepository{db: db, clock: clock}
}

// Acquire inserts the lock row, or takes over one whose expiry has passed.
// Returns false when another holder's lock is still live. lockID is
// "task:YYYY-MM-DDTHH", e.g. "scan_warnings:2025-06-07T09".
//
//	INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id, ...
//	  WHERE job_locks.expires_at < $3
//
// Timestamps are computed in Go; PostgreSQL does not parse Go duration strings
// as intervals.
func (r *TriggerLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	now := r.clock.Now()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire trigger lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ============================================================
// TaskHistoryRepository
// ============================================================

// TaskHistoryRepository records each scheduled task run in job_history for
// operator visibility.
type TaskHistoryRepository struct {
	db DBTX
}

func NewTaskHistoryRepository(db DBTX) *TaskHistoryRepository {
	return &TaskHistoryRepository{db: db}
}

// Start inserts a running history row and returns its ID.
func (r *TaskHistoryRepository) Start(ctx context.Context, task string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (task, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		task,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start task history entry", err)
	}
	return id, nil
}

// Finish closes the history row. status is "success" or "failed"; items is
// the number of jobs the run enqueued.
func (r *TaskHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, runErr error) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish task history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "task history entry not found", nil)
	}
	return nil
}
