package handlers

import (
	"context"

	"github.com/vidstream/backend/internal/auth"
	"github.com/vidstream/backend/internal/models"
)

// CredentialService registers accounts and verifies login credentials.
type CredentialService interface {
	Register(ctx context.Context, reg auth.Registration) (models.User, error)
	Verify(ctx context.Context, creds auth.Credentials) (models.User, error)
}

// SessionManager issues, rotates and revokes session tokens.
type SessionManager interface {
	Issue(ctx context.Context, user models.User) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.User, models.SessionTokens, error)
	Revoke(ctx context.Context, userID string) error
	Authenticate(ctx context.Context, accessToken string) (models.User, error)
}
