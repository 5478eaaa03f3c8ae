package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"subwatch/internal/types"
)

func TestSubscriptionRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()
	expires := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"sub_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "sub_1"
			*dest[1].(*string) = "u_1"
			*dest[2].(*types.SubscriptionStatus) = types.SubscriptionActive
			*dest[3].(**time.Time) = &expires
			return nil
		}})

	sub, err := repo.GetByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.True(t, sub.ExpiresAt.Equal(expires))
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(ctx, "sub_missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundSubscription, types.CodeOf(err))
}

func TestSubscriptionRepository_ListActiveExpiring_BoundOperators(t *testing.T) {
	now := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		window    types.ExpiryWindow
		wantStart string
		wantEnd   string
	}{
		{
			name:      "near-expiry (now, now+1h]",
			window:    types.ExpiryWindow{Start: now, End: now.Add(time.Hour), IncludeEnd: true},
			wantStart: "expires_at > $1",
			wantEnd:   "expires_at <= $2",
		},
		{
			name:      "day bucket [d, d+1)",
			window:    types.ExpiryWindow{Start: now, End: now.AddDate(0, 0, 1), IncludeStart: true},
			wantStart: "expires_at >= $1",
			wantEnd:   "expires_at < $2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewSubscriptionRepository(db)
			ctx := context.Background()

			db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
				return strings.Contains(sql, tt.wantStart) && strings.Contains(sql, tt.wantEnd) &&
					strings.Contains(sql, "status = 'active'")
			}), []any{tt.window.Start, tt.window.End}).
				Return(newMockRows([][]any{
					{"sub_1", "u_1", now.Add(30 * time.Minute)},
					{"sub_2", "u_2", now.Add(time.Hour)},
				}), nil)

			got, err := repo.ListActiveExpiring(ctx, tt.window)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "sub_1", got[0].SubscriptionID)
			assert.Equal(t, "u_2", got[1].UserID)
			db.AssertExpectations(t)
		})
	}
}

func TestSubscriptionRepository_ListActiveExpiring_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection reset"))

	_, err := repo.ListActiveExpiring(ctx, types.ExpiryWindow{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestSubscriptionRepository_ListActiveOverdue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "expires_at <= $1")
	}), []any{now, 100}).
		Return(newMockRows([][]any{{"sub_old", "u_1", now.Add(-2 * time.Hour)}}), nil)

	got, err := repo.ListActiveOverdue(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sub_old", got[0].SubscriptionID)
}

func TestSubscriptionRepository_ExpireSubscription(t *testing.T) {
	now := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

	t.Run("transitions active subscription", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewSubscriptionRepository(db)
		ctx := context.Background()

		db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "status = 'active'") && strings.Contains(sql, "expires_at <= $2")
		}), []any{"sub_1", now}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		ok, err := repo.ExpireSubscription(ctx, "sub_1", now)
		require.NoError(t, err)
		assert.True(t, ok)
		db.AssertExpectations(t)
	})

	t.Run("no-op when already expired or not due", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewSubscriptionRepository(db)
		ctx := context.Background()

		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		ok, err := repo.ExpireSubscription(ctx, "sub_1", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("database error", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewSubscriptionRepository(db)
		ctx := context.Background()

		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

		_, err := repo.ExpireSubscription(ctx, "sub_1", now)
		require.Error(t, err)
		assert.True(t, types.IsRetryable(err))
	})
}
