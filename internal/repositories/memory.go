package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/vidstream/backend/internal/models"
)

// MemoryUserRepository implements UserRepository for tests and local development.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
	now   func() time.Time
}

// NewMemoryUserRepository returns an empty in-memory user store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[string]models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new user record.
func (r *MemoryUserRepository) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.ID == user.ID || existing.Username == user.Username || existing.Email == user.Email {
			return ErrConflict
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

// FindByID fetches a user by identifier.
func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

// FindByUsernameOrEmail returns the oldest user matching either identifier.
func (r *MemoryUserRepository) FindByUsernameOrEmail(_ context.Context, username, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found models.User
		ok    bool
	)
	for _, user := range r.users {
		if (username != "" && user.Username == username) || (email != "" && user.Email == email) {
			if !ok || user.CreatedAt.Before(found.CreatedAt) {
				found, ok = user, true
			}
		}
	}
	if !ok {
		return models.User{}, ErrNotFound
	}
	return cloneUser(found), nil
}

// SetRefreshToken overwrites the stored refresh token.
func (r *MemoryUserRepository) SetRefreshToken(_ context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.RefreshToken = &token
	user.UpdatedAt = r.now()
	r.users[id] = user
	return nil
}

// RotateRefreshToken swaps current for next while holding the write lock.
func (r *MemoryUserRepository) RotateRefreshToken(_ context.Context, id, current, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	if user.RefreshToken == nil || *user.RefreshToken != current {
		return ErrRefreshTokenMismatch
	}
	user.RefreshToken = &next
	user.UpdatedAt = r.now()
	r.users[id] = user
	return nil
}

// ClearRefreshToken nulls the stored refresh token.
func (r *MemoryUserRepository) ClearRefreshToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.RefreshToken = nil
	user.UpdatedAt = r.now()
	r.users[id] = user
	return nil
}

// Len reports how many users are stored. Useful for tests.
func (r *MemoryUserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func cloneUser(user models.User) models.User {
	if user.RefreshToken != nil {
		token := *user.RefreshToken
		user.RefreshToken = &token
	}
	if user.WatchHistory != nil {
		user.WatchHistory = append([]string(nil), user.WatchHistory...)
	}
	return user
}

var _ UserRepository = (*MemoryUserRepository)(nil)
