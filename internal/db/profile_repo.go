package db

import (
	"context"
	"fmt"

	"subwatch/internal/types"
)

// ProfileRepository resolves notification recipients from the user directory.
type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile returns the recipient profile, or a not_found_recipient AppError
// when the user has no profile.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var p types.Profile
	var displayName *string
	err := r.db.QueryRow(ctx,
		`SELECT user_id, email, display_name
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Email, &displayName)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeRecipientNotFound, fmt.Sprintf("no profile for user %s", userID), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user profile", err)
	}
	if displayName != nil {
		p.DisplayName = *displayName
	}
	return &p, nil
}
