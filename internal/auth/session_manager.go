package auth

import (
	"context"
	"errors"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/logging"
	"github.com/vidstream/backend/internal/models"
	"github.com/vidstream/backend/internal/repositories"
)

// Manager manages the lifecycle of session tokens. The user record holds the single live
// refresh token, so refreshing rotates it and logging out clears it.
type Manager struct {
	users  repositories.UserRepository
	signer *Signer
}

// NewManager constructs a Manager backed by the user repository.
func NewManager(users repositories.UserRepository, signer *Signer) *Manager {
	if users == nil {
		panic("auth: user repository must not be nil")
	}
	if signer == nil {
		panic("auth: token signer must not be nil")
	}
	return &Manager{users: users, signer: signer}
}

// Issue mints a token pair for user and stores the refresh token, replacing any previous one.
func (m *Manager) Issue(ctx context.Context, user models.User) (tokens models.SessionTokens, err error) {
	ctx, span := logging.StartSpan(ctx, "auth.issue")
	defer func() { span.End(err) }()

	tokens, err = m.signer.Mint(user)
	if err != nil {
		return models.SessionTokens{}, apperror.Wrap(apperror.Internal, "error generating tokens", err)
	}

	if err := m.users.SetRefreshToken(ctx, user.ID, tokens.RefreshToken); err != nil {
		return models.SessionTokens{}, apperror.Wrap(apperror.Internal, "error generating tokens", err)
	}

	return tokens, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token stops working once
// the new one is stored; of several concurrent refreshes of the same token only one succeeds.
func (m *Manager) Refresh(ctx context.Context, presented string) (user models.User, tokens models.SessionTokens, err error) {
	ctx, span := logging.StartSpan(ctx, "auth.refresh")
	defer func() { span.End(err) }()

	if presented == "" {
		return models.User{}, models.SessionTokens{}, apperror.New(apperror.Unauthorized, "refresh token is required")
	}

	claims, err := m.signer.ParseRefresh(presented)
	if err != nil {
		return models.User{}, models.SessionTokens{}, apperror.Wrap(apperror.Unauthorized, "refresh token is invalid", err)
	}

	user, err = m.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, models.SessionTokens{}, apperror.Wrap(apperror.Unauthorized, "refresh token is invalid", err)
		}
		return models.User{}, models.SessionTokens{}, apperror.Wrap(apperror.Internal, "unable to refresh session", err)
	}

	if user.RefreshToken == nil || *user.RefreshToken != presented {
		return models.User{}, models.SessionTokens{}, apperror.New(apperror.Unauthorized, "refresh token is expired or used")
	}

	tokens, err = m.signer.Mint(user)
	if err != nil {
		return models.User{}, models.SessionTokens{}, apperror.Wrap(apperror.Internal, "error generating tokens", err)
	}

	if err := m.users.RotateRefreshToken(ctx, user.ID, presented, tokens.RefreshToken); err != nil {
		switch {
		case errors.Is(err, repositories.ErrRefreshTokenMismatch), errors.Is(err, repositories.ErrNotFound):
			logging.FromContext(ctx).Warn("refresh token rotated concurrently", "userId", user.ID)
			return models.User{}, models.SessionTokens{}, apperror.Wrap(apperror.Unauthorized, "refresh token is expired or used", err)
		default:
			return models.User{}, models.SessionTokens{}, apperror.Wrap(apperror.Internal, "error generating tokens", err)
		}
	}

	user.RefreshToken = &tokens.RefreshToken
	return user, tokens, nil
}

// Revoke clears the user's stored refresh token.
func (m *Manager) Revoke(ctx context.Context, userID string) (err error) {
	ctx, span := logging.StartSpan(ctx, "auth.revoke")
	defer func() { span.End(err) }()

	if err := m.users.ClearRefreshToken(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperror.Wrap(apperror.Unauthorized, "invalid access token", err)
		}
		return apperror.Wrap(apperror.Internal, "unable to log out", err)
	}
	return nil
}

// Authenticate resolves the user owning accessToken.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (models.User, error) {
	if accessToken == "" {
		return models.User{}, apperror.New(apperror.Unauthorized, "unauthorized request")
	}

	claims, err := m.signer.ParseAccess(accessToken)
	if err != nil {
		return models.User{}, apperror.Wrap(apperror.Unauthorized, "invalid access token", err)
	}

	user, err := m.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, apperror.Wrap(apperror.Unauthorized, "invalid access token", err)
		}
		return models.User{}, apperror.Wrap(apperror.Internal, "unable to authenticate request", err)
	}
	return user, nil
}
