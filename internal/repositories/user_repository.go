package repositories

import (
	"context"

	"github.com/vidstream/backend/internal/models"
)

// UserRepository defines the data access contract for user records.
//
// Refresh-token writes are targeted field updates: they never rewrite the rest of the record.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByID(ctx context.Context, id string) (models.User, error)
	// FindByUsernameOrEmail matches on whichever of username or email is non-empty.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (models.User, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	// RotateRefreshToken replaces the stored token with next only when it currently equals current.
	RotateRefreshToken(ctx context.Context, id, current, next string) error
	ClearRefreshToken(ctx context.Context, id string) error
}
