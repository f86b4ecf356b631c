// Package client talks to the SmartHatch auth server and keeps the resulting
// tokens in a pluggable TokenStore.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smarthatch/authserver/types"
)

const defaultTimeout = 15 * time.Second

// Client is a typed HTTP client for the auth endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New returns a client for the server at baseURL, e.g.
// "http://localhost:8080/api/auth".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoginResult is the user together with both issued tokens.
type LoginResult struct {
	types.User
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterResult is the new user together with its access token.
type RegisterResult struct {
	types.User
	AccessToken string `json:"accessToken"`
}

type refreshEnvelope struct {
	Success bool             `json:"success"`
	Data    *types.TokenPair `json:"data"`
	Message string           `json:"message"`
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", "", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, email, password, name string) (RegisterResult, error) {
	var out RegisterResult
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/register", "", body, &out); err != nil {
		return RegisterResult{}, err
	}
	return out, nil
}

func (c *Client) Logout(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/logout", "", map[string]string{"email": email}, nil)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	var out refreshEnvelope
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/refresh", "", body, &out); err != nil {
		return types.TokenPair{}, err
	}
	if !out.Success || out.Data == nil {
		return types.TokenPair{}, ErrInvalidResponse
	}
	return *out.Data, nil
}

func (c *Client) Me(ctx context.Context, accessToken string) (types.User, error) {
	var out types.User
	if err := c.do(ctx, http.MethodGet, "/me", accessToken, nil, &out); err != nil {
		return types.User{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
