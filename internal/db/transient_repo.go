package db

import (
	"context"
	"time"

	"subwatch/internal/types"
)

// TransientRepository purges short-lived security records: replay-protection
// nonces and rate-limit counters.
type TransientRepository struct {
	db DBTX
}

func NewTransientRepository(db DBTX) *TransientRepository {
	return &TransientRepository{db: db}
}

// DeleteNoncesBefore deletes nonces created before cutoff.
//
//	DELETE FROM nonces WHERE created_at < $1
func (r *TransientRepository) DeleteNoncesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM nonces WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge nonces", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteRateLimitsBefore deletes rate-limit windows that started before cutoff.
//
//	DELETE FROM rate_limits WHERE window_start < $1
func (r *TransientRepository) DeleteRateLimitsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge rate limits", err)
	}
	return int(tag.RowsAffected()), nil
}
