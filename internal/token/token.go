// Package token issues and verifies the signed access and refresh tokens
// handed to clients.
//
// Both kinds are HS256 JWTs. Each kind is signed with its own secret and
// carries a "kind" claim, so a refresh token is never accepted where an
// access token is expected even when the two secrets are equal. Every token
// gets a random jti, so two tokens minted for the same user in the same
// second still differ.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smarthatch/authserver/types"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned when a token's signature, structure, or kind
	// does not check out, or when a refresh token has been superseded.
	ErrTokenInvalid = errors.New("token invalid")

	errMissingSecret = errors.New("token signing secret is required")
)

// Claims are the JWT claims carried by both token kinds.
type Claims struct {
	Kind  Kind   `json:"kind"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the identity the token was issued to.
func (c Claims) UserID() string {
	return c.Subject
}

// Config holds signing material and lifetimes.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer mints and verifies tokens.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer constructs an Issuer. Both secrets are required; zero TTLs fall
// back to the package defaults.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errMissingSecret
	}

	issuer := &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	if issuer.accessTTL <= 0 {
		issuer.accessTTL = DefaultAccessTTL
	}
	if issuer.refreshTTL <= 0 {
		issuer.refreshTTL = DefaultRefreshTTL
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// IssueAccessToken mints a short-lived access token for user.
func (i *Issuer) IssueAccessToken(user types.User) (string, error) {
	return i.issue(KindAccess, user, i.accessSecret, i.accessTTL)
}

// IssueRefreshToken mints a long-lived refresh token for user.
func (i *Issuer) IssueRefreshToken(user types.User) (string, error) {
	return i.issue(KindRefresh, user, i.refreshSecret, i.refreshTTL)
}

// IssuePair mints an access token and a refresh token for user.
func (i *Issuer) IssuePair(user types.User) (types.TokenPair, error) {
	access, err := i.IssueAccessToken(user)
	if err != nil {
		return types.TokenPair{}, err
	}
	refresh, err := i.IssueRefreshToken(user)
	if err != nil {
		return types.TokenPair{}, err
	}
	return types.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks the signature, expiry and kind of tokenString.
// It returns ErrTokenExpired or ErrTokenInvalid on failure.
func (i *Issuer) Verify(tokenString string, expected Kind) (Claims, error) {
	var secret []byte
	switch expected {
	case KindAccess:
		secret = i.accessSecret
	case KindRefresh:
		secret = i.refreshSecret
	default:
		return Claims{}, ErrTokenInvalid
	}

	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !token.Valid || claims.Kind != expected || strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

func (i *Issuer) issue(kind Kind, user types.User, secret []byte, ttl time.Duration) (string, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", errors.New("cannot issue token without user id")
	}

	now := i.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if kind == KindAccess {
		claims.Email = user.Email
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
