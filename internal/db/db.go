// Package db provides PostgreSQL-backed repositories for the subwatch
// services. Every repository accepts a DBTX so the same code runs against a
// *pgxpool.Pool or inside a pgx.Tx.
//
// Tables (owned elsewhere are marked):
//
//	subscriptions(id, user_id, status, expires_at)            -- billing service
//	user_profiles(user_id, email, display_name)               -- user directory
//	audit_log(id, timestamp, subject_id, action, success, severity, metadata jsonb)
//	jobs(id, class, payload jsonb, attempt, max_attempts, not_before, state,
//	     last_error, result jsonb, created_at, started_at, finished_at)
//	job_locks(id, worker_id, locked_at, expires_at)
//	job_history(id bigserial, task, started_at, finished_at, status, items_count, error)
//	nonces(nonce, created_at)
//	rate_limits(key, window_start, count)
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
