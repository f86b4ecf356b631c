package types

import "time"

// User represents an account in the system.
// It contains identity, session, and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's login key. It is stored trimmed and lowercased.
	Email string `json:"email" db:"email"`

	// Name is the user's display name. Empty when not provided.
	Name string `json:"name" db:"name"`

	// PasswordHash stores the bcrypt digest of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// RefreshToken is the single currently valid refresh token.
	// Nil means there is no session to refresh.
	RefreshToken *string `json:"-" db:"refresh_token"`

	// AvatarKey is the object storage key of the uploaded avatar, if any.
	AvatarKey string `json:"avatarKey,omitempty" db:"avatar_key"`

	// LastLoginAt is the timestamp of the most recent successful
	// password authentication.
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasRefreshToken reports whether the user holds a refresh token.
func (u User) HasRefreshToken() bool {
	return u.RefreshToken != nil && *u.RefreshToken != ""
}
