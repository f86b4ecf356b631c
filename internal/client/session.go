package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/smarthatch/authserver/types"
)

// Session tracks whether this client is logged in and keeps its tokens in a
// TokenStore. It is safe for concurrent use.
//
// Login persists both tokens. Register persists only the access token, so a
// freshly registered client cannot refresh until it logs in.
type Session struct {
	client *Client
	store  TokenStore

	mu     sync.Mutex
	tokens Tokens
}

func NewSession(client *Client, store TokenStore) *Session {
	return &Session{client: client, store: store}
}

// Init loads persisted tokens.
func (s *Session) Init(ctx context.Context) error {
	tokens, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return nil
}

// IsAuthenticated reports whether an access token is held.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken != ""
}

// Tokens returns a copy of the current state.
func (s *Session) Tokens() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Login authenticates and persists both tokens. On any failure both tokens
// are removed and the session becomes unauthenticated.
func (s *Session) Login(ctx context.Context, email, password string) (types.User, error) {
	res, err := s.client.Login(ctx, email, password)
	if err == nil && (res.AccessToken == "" || res.RefreshToken == "") {
		err = fmt.Errorf("login: %w", ErrInvalidResponse)
	}
	if err != nil {
		s.reset(ctx)
		return types.User{}, err
	}

	tokens := Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Email:        res.Email,
	}
	if err := s.save(ctx, tokens); err != nil {
		return types.User{}, err
	}
	return res.User, nil
}

// Register creates an account and persists only its access token. Any
// refresh token left from an earlier session is dropped.
func (s *Session) Register(ctx context.Context, email, password, name string) (types.User, error) {
	res, err := s.client.Register(ctx, email, password, name)
	if err == nil && res.AccessToken == "" {
		err = fmt.Errorf("register: %w", ErrInvalidResponse)
	}
	if err != nil {
		s.reset(ctx)
		return types.User{}, err
	}

	tokens := Tokens{
		AccessToken: res.AccessToken,
		Email:       res.Email,
	}
	if err := s.save(ctx, tokens); err != nil {
		return types.User{}, err
	}
	return res.User, nil
}

// Refresh rotates the stored refresh token. A 401 or 403 from the server
// ends the session locally.
func (s *Session) Refresh(ctx context.Context) error {
	current := s.Tokens()
	if current.RefreshToken == "" {
		return ErrNotAuthenticated
	}

	pair, err := s.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if IsUnauthorized(err) {
			s.reset(ctx)
		}
		return err
	}

	current.AccessToken = pair.AccessToken
	current.RefreshToken = pair.RefreshToken
	return s.save(ctx, current)
}

// Logout tells the server to drop its refresh token, then clears local state.
// Local state is cleared even when the server call fails; that error is
// still returned.
func (s *Session) Logout(ctx context.Context) error {
	current := s.Tokens()

	var serverErr error
	if strings.TrimSpace(current.Email) != "" {
		serverErr = s.client.Logout(ctx, current.Email)
	}

	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return errors.Join(serverErr, err)
	}
	return serverErr
}

// Me returns the current user. An expired access token is refreshed once
// when a refresh token is available.
func (s *Session) Me(ctx context.Context) (types.User, error) {
	current := s.Tokens()
	if current.AccessToken == "" {
		return types.User{}, ErrNotAuthenticated
	}

	user, err := s.client.Me(ctx, current.AccessToken)
	if err == nil || !IsUnauthorized(err) || current.RefreshToken == "" {
		return user, err
	}

	if err := s.Refresh(ctx); err != nil {
		return types.User{}, err
	}
	return s.client.Me(ctx, s.Tokens().AccessToken)
}

func (s *Session) save(ctx context.Context, tokens Tokens) error {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	if err := s.store.Save(ctx, tokens); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

func (s *Session) reset(ctx context.Context) {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()
	_ = s.store.Clear(ctx)
}
