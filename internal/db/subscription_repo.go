package db

import (
	"context"
	"fmt"
	"time"

	"subwatch/internal/types"
)

// SubscriptionRepository reads subscriptions and performs the single
// lifecycle transition this service owns: active -> expired.
type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetByID returns the subscription or a not_found_subscription AppError.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, status, expires_at
		 FROM subscriptions
		 WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.UserID, &s.Status, &s.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, fmt.Sprintf("subscription %s not found", id), err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return &s, nil
}

// ListActiveExpiring returns active subscriptions whose expires_at falls in w,
// ordered by expiry.
func (r *SubscriptionRepository) ListActiveExpiring(ctx context.Context, w types.ExpiryWindow) ([]types.Candidate, error) {
	startOp, endOp := ">", "<"
	if w.IncludeStart {
		startOp = ">="
	}
	if w.IncludeEnd {
		endOp = "<="
	}

	query := fmt.Sprintf(
		`SELECT id, user_id, expires_at
		 FROM subscriptions
		 WHERE status = 'active'
		   AND expires_at %s $1
		   AND expires_at %s $2
		 ORDER BY expires_at, id`,
		startOp, endOp,
	)
	return r.listCandidates(ctx, query, w.Start, w.End)
}

// ListActiveOverdue returns active subscriptions whose expires_at is at or
// before now. These were missed by an earlier near-expiry scan.
func (r *SubscriptionRepository) ListActiveOverdue(ctx context.Context, now time.Time, limit int) ([]types.Candidate, error) {
	return r.listCandidates(ctx,
		`SELECT id, user_id, expires_at
		 FROM subscriptions
		 WHERE status = 'active'
		   AND expires_at <= $1
		 ORDER BY expires_at, id
		 LIMIT $2`,
		now, limit,
	)
}

func (r *SubscriptionRepository) listCandidates(ctx context.Context, query string, args ...any) ([]types.Candidate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query expiring subscriptions", err)
	}
	defer rows.Close()

	var out []types.Candidate
	for rows.Next() {
		var c types.Candidate
		if err := rows.Scan(&c.SubscriptionID, &c.UserID, &c.ExpiresAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription candidate", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate subscription candidates", err)
	}
	return out, nil
}

// ExpireSubscription transitions the subscription to expired. The WHERE
// clause enforces that it is still active and already due at now, so the
// transition happens at most once. Returns false when nothing changed.
func (r *SubscriptionRepository) ExpireSubscription(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'expired',
		     updated_at = $2
		 WHERE id = $1
		   AND status = 'active'
		   AND expires_at IS NOT NULL
		   AND expires_at <= $2`,
		id,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to expire subscription", err)
	}
	return tag.RowsAffected() == 1, nil
}
