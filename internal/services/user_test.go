package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smarthatch/authserver/internal/password"
	"github.com/smarthatch/authserver/internal/store"
	"github.com/smarthatch/authserver/internal/token"
	"github.com/smarthatch/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.AuthEvent
	err    error
}

func (p *recordingPublisher) PublishAuthEvent(ctx context.Context, event types.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []types.AuthEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.AuthEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	repo   *store.MemoryUserRepository
	issuer *token.Issuer
	events *recordingPublisher
	svc    *UserService
	now    time.Time
}

func newFixture(t *testing.T, opts ...UserServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		repo:   store.NewMemoryUserRepository(),
		events: &recordingPublisher{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	}, token.WithClock(clock))
	require.NoError(t, err)
	f.issuer = issuer

	opts = append([]UserServiceOption{WithEventPublisher(f.events), WithClock(clock)}, opts...)
	f.svc = NewUserService(f.repo, password.New(bcrypt.MinCost), issuer, opts...)
	return f
}

func (f *fixture) login(t *testing.T, email, pw string) (types.User, types.TokenPair) {
	t.Helper()
	ctx := context.Background()
	user, err := f.svc.AuthenticateWithPassword(ctx, email, pw)
	require.NoError(t, err)
	pair, err := f.issuer.IssuePair(user)
	require.NoError(t, err)
	user, err = f.svc.StartSession(ctx, user, pair.RefreshToken)
	require.NoError(t, err)
	return user, pair
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, " Alice@Example.com ", "pw123", "Alice")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice", user.Name)
	assert.NotEqual(t, "pw123", user.PasswordHash)
	assert.Nil(t, user.RefreshToken)
	assert.Equal(t, []types.AuthEventType{types.EventUserRegistered}, f.events.eventTypes())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "ALICE@example.com", "other", "Impostor")
	require.ErrorIs(t, err, ErrDuplicateEmail)

	assert.Equal(t, 1, f.repo.Len())
	stored, err := f.repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, "Alice", stored.Name)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "", "pw", "x")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Register(ctx, "a@example.com", "", "x")
	assert.ErrorIs(t, err, ErrValidation)

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.svc.Register(ctx, "a@example.com", string(long), "x")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.repo.Len())
}

func TestAuthenticateWithPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	_, err = f.svc.AuthenticateWithPassword(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.AuthenticateWithPassword(ctx, "bob@example.com", "pw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.AuthenticateWithPassword(ctx, "", "pw123")
	assert.ErrorIs(t, err, ErrValidation)

	user, err := f.svc.AuthenticateWithPassword(ctx, "Alice@Example.com", "pw123")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.True(t, f.now.Equal(*user.LastLoginAt))
}

func TestAuthenticateWithPassword_LastLoginStrictlyIncreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	// The clock is frozen, so every login lands on the same instant.
	var prev time.Time
	for i := 0; i < 3; i++ {
		user, err := f.svc.AuthenticateWithPassword(ctx, "alice@example.com", "pw123")
		require.NoError(t, err)
		require.NotNil(t, user.LastLoginAt)
		assert.True(t, user.LastLoginAt.After(prev), "login %d: %v not after %v", i, *user.LastLoginAt, prev)
		prev = *user.LastLoginAt
	}

	// A clock that moves backwards must not move lastLoginAt backwards.
	f.now = f.now.Add(-time.Hour)
	user, err := f.svc.AuthenticateWithPassword(ctx, "alice@example.com", "pw123")
	require.NoError(t, err)
	assert.True(t, user.LastLoginAt.After(prev))
}

func TestAuthenticateWithPassword_MalformedHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Create(ctx, types.User{Email: "corrupt@example.com", PasswordHash: "not-a-bcrypt-hash"})
	require.NoError(t, err)

	_, err = f.svc.AuthenticateWithPassword(ctx, "corrupt@example.com", "pw123")
	require.Error(t, err)
	assert.ErrorIs(t, err, password.ErrMalformedHash)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
}

func TestRotateRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	user, rt0 := f.login(t, "alice@example.com", "pw123")

	rt1, err := f.svc.RotateRefreshToken(ctx, rt0.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, rt0.RefreshToken, rt1.RefreshToken)
	assert.NotEqual(t, rt0.AccessToken, rt1.AccessToken)

	claims, err := f.issuer.Verify(rt1.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())

	_, err = f.svc.RotateRefreshToken(ctx, rt0.RefreshToken)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	rt2, err := f.svc.RotateRefreshToken(ctx, rt1.RefreshToken)
	require.NoError(t, err)

	stored, err := f.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, rt2.RefreshToken, *stored.RefreshToken)
}

func TestRotateRefreshToken_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	_, pair := f.login(t, "alice@example.com", "pw123")

	// The stored value still matches; expiry alone rejects it.
	f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.RotateRefreshToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, token.ErrTokenExpired)
}

func TestRotateRefreshToken_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.RotateRefreshToken(ctx, "not-a-token")
		assert.ErrorIs(t, err, token.ErrTokenInvalid)
	})

	t.Run("access token", func(t *testing.T) {
		access, err := f.issuer.IssueAccessToken(user)
		require.NoError(t, err)
		_, err = f.svc.RotateRefreshToken(ctx, access)
		assert.ErrorIs(t, err, token.ErrTokenInvalid)
	})

	t.Run("no stored token", func(t *testing.T) {
		rt, err := f.issuer.IssueRefreshToken(user)
		require.NoError(t, err)
		_, err = f.svc.RotateRefreshToken(ctx, rt)
		assert.ErrorIs(t, err, token.ErrTokenInvalid)
	})

	t.Run("unknown user", func(t *testing.T) {
		rt, err := f.issuer.IssueRefreshToken(types.User{ID: "ghost", Email: "ghost@example.com"})
		require.NoError(t, err)
		_, err = f.svc.RotateRefreshToken(ctx, rt)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	user, pair := f.login(t, "alice@example.com", "pw123")

	require.NoError(t, f.svc.Logout(ctx, "alice@example.com"))

	stored, err := f.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)

	_, err = f.svc.RotateRefreshToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	// Idempotent, and unknown users are not an error.
	require.NoError(t, f.svc.Logout(ctx, "alice@example.com"))
	require.NoError(t, f.svc.Logout(ctx, "nobody@example.com"))

	assert.Equal(t, []types.AuthEventType{
		types.EventUserRegistered,
		types.EventUserLoggedIn,
		types.EventUserLoggedOut,
	}, f.events.eventTypes())
}

func TestSetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	user, pair := f.login(t, "alice@example.com", "pw123")

	err = f.svc.SetPassword(ctx, user.ID, "wrong", "new-pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.svc.SetPassword(ctx, user.ID, "pw123", "")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.SetPassword(ctx, user.ID, "pw123", "new-pw"))

	_, err = f.svc.AuthenticateWithPassword(ctx, "alice@example.com", "pw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.AuthenticateWithPassword(ctx, "alice@example.com", "new-pw")
	assert.NoError(t, err)

	_, err = f.svc.RotateRefreshToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	err = f.svc.SetPassword(ctx, "ghost", "a", "b")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)

	updated, err := f.svc.UpdateProfile(ctx, user.ID, "  Alice Hatcher ")
	require.NoError(t, err)
	assert.Equal(t, "Alice Hatcher", updated.Name)

	_, err = f.svc.UpdateProfile(ctx, "ghost", "x")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	_, err := f.svc.Register(context.Background(), "alice@example.com", "pw123", "Alice")
	require.NoError(t, err)
	assert.Len(t, f.events.eventTypes(), 1)
}
