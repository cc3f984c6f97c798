package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vidstream/backend/internal/models"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

var (
	// ErrTokenInvalid covers malformed, expired, wrongly signed or wrongly typed tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrSecretMissing is returned when a signer is built without both secrets.
	ErrSecretMissing = errors.New("token signing secrets must be provided")
)

// AccessClaims identify the user carrying an access token.
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullname"`
	Use      string `json:"use"`
	jwt.RegisteredClaims
}

// RefreshClaims carry only what is needed to find the user again.
type RefreshClaims struct {
	Use string `json:"use"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 access and refresh tokens, each with its own secret.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration

	// NowFunc overrides the clock used for issuing and validating tokens.
	NowFunc func() time.Time
}

// NewSigner constructs a Signer. Both secrets are required.
func NewSigner(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Signer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, ErrSecretMissing
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 10 * 24 * time.Hour
	}
	return &Signer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// Mint issues a fresh token pair for user. Every token carries a unique jti, so two pairs
// minted in the same second still differ.
func (s *Signer) Mint(user models.User) (models.SessionTokens, error) {
	if user.ID == "" {
		return models.SessionTokens{}, errors.New("user id must be provided")
	}

	now := s.now()
	accessExpires := now.Add(s.accessTTL)
	refreshExpires := now.Add(s.refreshTTL)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
		Use:      useAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpires),
		},
	})
	accessToken, err := access.SignedString(s.accessSecret)
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		Use: useRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpires),
		},
	})
	refreshToken, err := refresh.SignedString(s.refreshSecret)
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return models.SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (s *Signer) ParseAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.parse(token, &claims, s.accessSecret); err != nil {
		return nil, err
	}
	if claims.Use != useAccess || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (s *Signer) ParseRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := s.parse(token, &claims, s.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Use != useRefresh || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

// AccessTTL reports the lifetime of access tokens.
func (s *Signer) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the lifetime of refresh tokens.
func (s *Signer) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Signer) parse(token string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil
}

func (s *Signer) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}
