// Package services holds the authentication use-cases: password login,
// registration, refresh-token rotation, logout and profile maintenance.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smarthatch/authserver/internal/logging"
	"github.com/smarthatch/authserver/internal/metrics"
	"github.com/smarthatch/authserver/internal/password"
	"github.com/smarthatch/authserver/internal/store"
	"github.com/smarthatch/authserver/internal/token"
	"github.com/smarthatch/authserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
}

// TokenIssuer mints and verifies signed tokens.
type TokenIssuer interface {
	IssueAccessToken(user types.User) (string, error)
	IssueRefreshToken(user types.User) (string, error)
	Verify(tokenString string, expected token.Kind) (token.Claims, error)
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, event types.AuthEvent) error
}

// UserService encapsulates user and session use-cases.
//
// Concurrent logins or refreshes for the same user are last-write-wins: the
// request that persists last holds the valid refresh token and any token
// rotated away by it fails on next use.
type UserService struct {
	repo    UserRepository
	hasher  PasswordHasher
	issuer  TokenIssuer
	events  EventPublisher
	metrics *metrics.Recorder
	log     logging.Logger
	now     func() time.Time
}

// UserServiceOption customizes a UserService.
type UserServiceOption func(*UserService)

func WithEventPublisher(p EventPublisher) UserServiceOption {
	return func(s *UserService) {
		s.events = p
	}
}

func WithMetrics(m *metrics.Recorder) UserServiceOption {
	return func(s *UserService) {
		s.metrics = m
	}
}

func WithLogger(l logging.Logger) UserServiceOption {
	return func(s *UserService) {
		s.log = l
	}
}

func WithClock(now func() time.Time) UserServiceOption {
	return func(s *UserService) {
		s.now = now
	}
}

func NewUserService(repo UserRepository, hasher PasswordHasher, issuer TokenIssuer, opts ...UserServiceOption) *UserService {
	s := &UserService{
		repo:   repo,
		hasher: hasher,
		issuer: issuer,
		log:    logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail trims and lowercases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// AuthenticateWithPassword checks email and password and, on success, stamps
// and persists lastLoginAt. It does not mint tokens.
//
// Unknown email and wrong password both yield ErrInvalidCredentials; only the
// log tells them apart. A corrupt stored hash yields an error wrapping
// password.ErrMalformedHash.
func (s *UserService) AuthenticateWithPassword(ctx context.Context, email, plaintext string) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" || plaintext == "" {
		return types.User{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Info(ctx, "login rejected: no user with email", "email", email)
			s.metrics.ObserveLogin(metrics.ResultInvalidCredentials)
			return types.User{}, ErrInvalidCredentials
		}
		s.metrics.ObserveLogin(metrics.ResultError)
		return types.User{}, fmt.Errorf("find user by email: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, plaintext, user.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrMalformedHash) {
			s.log.Error(ctx, "stored password hash is corrupt", "user_id", user.ID)
		}
		s.metrics.ObserveLogin(metrics.ResultError)
		return types.User{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.log.Info(ctx, "login rejected: wrong password", "user_id", user.ID)
		s.metrics.ObserveLogin(metrics.ResultInvalidCredentials)
		return types.User{}, ErrInvalidCredentials
	}

	loginAt := s.nextLoginTime(user.LastLoginAt)
	user.LastLoginAt = &loginAt
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return types.User{}, fmt.Errorf("save login time: %w", err)
	}

	s.metrics.ObserveLogin(metrics.ResultSuccess)
	return updated, nil
}

// Register creates a user with a hashed password. It fails with
// ErrDuplicateEmail when the email is taken; no record is written then.
func (s *UserService) Register(ctx context.Context, email, plaintext, name string) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return types.User{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if plaintext == "" {
		return types.User{}, fmt.Errorf("%w: password is required", ErrValidation)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		s.metrics.ObserveRegistration(metrics.ResultDuplicate)
		return types.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, fmt.Errorf("check existing user: %w", err)
	}

	digest, err := s.hasher.Hash(ctx, plaintext)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return types.User{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: digest,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			s.metrics.ObserveRegistration(metrics.ResultDuplicate)
			return types.User{}, ErrDuplicateEmail
		}
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID)
	s.metrics.ObserveRegistration(metrics.ResultSuccess)
	s.publish(ctx, types.EventUserRegistered, user)
	return user, nil
}

// StartSession records refreshToken as the user's only valid refresh token,
// superseding any previous one.
func (s *UserService) StartSession(ctx context.Context, user types.User, refreshToken string) (types.User, error) {
	if refreshToken == "" {
		return types.User{}, fmt.Errorf("%w: refresh token is required", ErrValidation)
	}
	user.RefreshToken = &refreshToken
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, fmt.Errorf("save refresh token: %w", err)
	}
	s.publish(ctx, types.EventUserLoggedIn, updated)
	return updated, nil
}

// RotateRefreshToken exchanges a valid refresh token for a new token pair.
//
// The presented token must verify and must equal the stored one; a token
// that verifies but was already rotated away fails with token.ErrTokenInvalid.
func (s *UserService) RotateRefreshToken(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			s.metrics.ObserveRefresh(metrics.ResultExpired)
		} else {
			s.metrics.ObserveRefresh(metrics.ResultInvalid)
		}
		return types.TokenPair{}, err
	}

	user, err := s.repo.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveRefresh(metrics.ResultInvalid)
			return types.TokenPair{}, ErrUserNotFound
		}
		s.metrics.ObserveRefresh(metrics.ResultError)
		return types.TokenPair{}, fmt.Errorf("find user by id: %w", err)
	}

	if !user.HasRefreshToken() || subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(refreshToken)) != 1 {
		s.log.Warn(ctx, "refresh rejected: token is not the current one", "user_id", user.ID)
		s.metrics.ObserveRefresh(metrics.ResultInvalid)
		return types.TokenPair{}, token.ErrTokenInvalid
	}

	access, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.ResultError)
		return types.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.issuer.IssueRefreshToken(user)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.ResultError)
		return types.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	user.RefreshToken = &refresh
	if _, err := s.repo.Update(ctx, user); err != nil {
		s.metrics.ObserveRefresh(metrics.ResultError)
		return types.TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}

	s.metrics.ObserveRefresh(metrics.ResultSuccess)
	s.publish(ctx, types.EventUserTokenRefreshed, user)
	return types.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout clears the stored refresh token of the user with email. An unknown
// email is not an error.
func (s *UserService) Logout(ctx context.Context, email string) error {
	s.metrics.ObserveLogout()

	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find user by email: %w", err)
	}
	if user.RefreshToken == nil {
		return nil
	}

	user.RefreshToken = nil
	if _, err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	s.publish(ctx, types.EventUserLoggedOut, user)
	return nil
}

// UpdateProfile changes the display name of the user.
func (s *UserService) UpdateProfile(ctx context.Context, id, name string) (types.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Name = strings.TrimSpace(name)
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

// SetPassword replaces the user's password after checking the current one.
// The stored refresh token is cleared, so every session has to log in again.
func (s *UserService) SetPassword(ctx context.Context, id, current, next string) error {
	if current == "" || next == "" {
		return fmt.Errorf("%w: current and new password are required", ErrValidation)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(ctx, current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	digest, err := s.hasher.Hash(ctx, next)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return err
	}

	user.PasswordHash = digest
	user.RefreshToken = nil
	if _, err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("save password: %w", err)
	}
	s.publish(ctx, types.EventUserPasswordChanged, user)
	return nil
}

// nextLoginTime returns the current time, nudged forward when the clock has
// not moved past the previous login so lastLoginAt strictly increases.
// Microsecond precision matches what Postgres stores.
func (s *UserService) nextLoginTime(prev *time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if prev != nil && !now.After(*prev) {
		now = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

func (s *UserService) publish(ctx context.Context, eventType types.AuthEventType, user types.User) {
	if s.events == nil {
		return
	}
	event := types.AuthEvent{
		Type:   eventType,
		UserID: user.ID,
		Email:  user.Email,
		At:     s.now().UTC(),
	}
	if err := s.events.PublishAuthEvent(ctx, event); err != nil {
		s.log.Warn(ctx, "failed to publish auth event", "event", string(eventType), "user_id", user.ID, "error", err)
	}
}
