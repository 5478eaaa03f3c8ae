package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"subwatch/internal/types"
)

// JobRepository persists job state for the executor and the ops surface.
// Transitions are conditional UPDATEs so that concurrent deliveries of the
// same job cannot both claim it.
type JobRepository struct {
	db DBTX
}

func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, class, payload, attempt, max_attempts, not_before, state,
	last_error, result, created_at, started_at, finished_at`

// Insert records a new pending job.
func (r *JobRepository) Insert(ctx context.Context, job *types.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeConfiguration, "failed to encode job payload", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO jobs (id, class, payload, attempt, max_attempts, not_before, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)`,
		job.ID,
		string(job.Class),
		payload,
		job.Attempt,
		job.MaxAttempts,
		job.NotBefore,
		job.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert job", err)
	}
	return nil
}

// MarkRunning claims the job for execution and returns its stored attempt
// count. It succeeds when the job is due and pending or retrying, or when a
// previous claim started before staleBefore (the worker holding it is
// presumed gone). Returns claimed=false if the job is not yet due, another
// delivery owns it or it already finished.
//
//	UPDATE jobs SET state = 'running', started_at = $2
//	WHERE id = $1
//	  AND not_before <= $2
//	  AND (state IN ('pending', 'retrying')
//	       OR (state = 'running' AND started_at < $3))
//	RETURNING attempt
func (r *JobRepository) MarkRunning(ctx context.Context, id string, now, staleBefore time.Time) (int, bool, error) {
	var attempt int
	err := r.db.QueryRow(ctx,
		`UPDATE jobs
		 SET state = 'running', started_at = $2, finished_at = NULL
		 WHERE id = $1
		   AND not_before <= $2
		   AND (state IN ('pending', 'retrying')
		        OR (state = 'running' AND started_at < $3))
		 RETURNING attempt`,
		id,
		now,
		staleBefore,
	).Scan(&attempt)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job", err)
	}
	return attempt, true, nil
}

// Reject marks a job dead without running it, regardless of not_before. It
// applies to the same states MarkRunning would claim and returns the stored
// attempt count.
func (r *JobRepository) Reject(ctx context.Context, id string, finishedAt, staleBefore time.Time, lastErr string) (int, bool, error) {
	var attempt int
	err := r.db.QueryRow(ctx,
		`UPDATE jobs
		 SET state = 'dead', finished_at = $2, last_error = $4
		 WHERE id = $1
		   AND (state IN ('pending', 'retrying')
		        OR (state = 'running' AND started_at < $3))
		 RETURNING attempt`,
		id,
		finishedAt,
		staleBefore,
		lastErr,
	).Scan(&attempt)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to reject job", err)
	}
	return attempt, true, nil
}

// MarkCompleted records a successful run.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, finishedAt time.Time, result types.JobResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job result", err)
	}
	_, err = r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = 'completed', finished_at = $2, result = $3, last_error = NULL
		 WHERE id = $1 AND state = 'running'`,
		id,
		finishedAt,
		encoded,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job completed", err)
	}
	return nil
}

// MarkRetrying records a failed attempt that will run again at notBefore.
func (r *JobRepository) MarkRetrying(ctx context.Context, id string, attempt int, notBefore time.Time, lastErr string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = 'retrying', attempt = $2, not_before = $3, last_error = $4, started_at = NULL
		 WHERE id = $1 AND state = 'running'`,
		id,
		attempt,
		notBefore,
		lastErr,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job retrying", err)
	}
	return nil
}

// MarkDead records a job that will not run again.
func (r *JobRepository) MarkDead(ctx context.Context, id string, attempt int, finishedAt time.Time, lastErr string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = 'dead', attempt = $2, finished_at = $3, last_error = $4
		 WHERE id = $1 AND state = 'running'`,
		id,
		attempt,
		finishedAt,
		lastErr,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job dead", err)
	}
	return nil
}

// Get returns a job by ID, or a not_found_job AppError.
func (r *JobRepository) Get(ctx context.Context, id string) (*types.Job, error) {
	rows, err := r.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load job", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %s not found", id), nil)
	}
	return jobs[0], nil
}

// ListByState returns up to limit jobs in the given state, newest first.
func (r *JobRepository) ListByState(ctx context.Context, state types.JobState, limit int) ([]*types.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE state = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		string(state),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs", err)
	}
	return collectJobs(rows)
}

// Prune deletes all but the keep most recently finished jobs of the given
// class in the given state. Returns the number deleted.
func (r *JobRepository) Prune(ctx context.Context, class types.JobClass, state types.JobState, keep int) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM jobs
		 WHERE id IN (
		   SELECT id FROM jobs
		   WHERE class = $1 AND state = $2
		   ORDER BY finished_at DESC NULLS LAST, id DESC
		   OFFSET $3
		 )`,
		string(class),
		string(state),
		keep,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectJobs(rows pgx.Rows) ([]*types.Job, error) {
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		var (
			j         types.Job
			class     string
			state     string
			payload   []byte
			result    []byte
			lastError *string
		)
		if err := rows.Scan(
			&j.ID, &class, &payload, &j.Attempt, &j.MaxAttempts, &j.NotBefore, &state,
			&lastError, &result, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job", err)
		}

		j.Class = types.JobClass(class)
		j.State = types.JobState(state)
		if lastError != nil {
			j.LastError = *lastError
		}

		p, err := types.DecodePayload(j.Class, payload)
		if err != nil {
			return nil, err
		}
		j.Payload = p

		res, err := types.DecodeResult(j.Class, result)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode job result", err)
		}
		j.Result = res

		out = append(out, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate jobs", err)
	}
	return out, nil
}
