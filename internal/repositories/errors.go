package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrRefreshTokenMismatch indicates a conditional refresh-token write found a different
	// stored value than the caller expected.
	ErrRefreshTokenMismatch = errors.New("stored refresh token does not match")
)
