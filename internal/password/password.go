// Package password hashes and verifies user passwords with bcrypt.
//
// Hash and Verify run bcrypt on a separate goroutine and return as soon as
// ctx is done. An abandoned computation finishes in the background and its
// result is discarded.
package password

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMalformedHash is returned by Verify when the stored digest cannot be
	// parsed. It means the stored data is corrupt, not that the password is wrong.
	ErrMalformedHash = errors.New("malformed password hash")

	// ErrPasswordTooLong is returned by Hash for passwords bcrypt cannot handle.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// Hasher produces and checks bcrypt digests at a fixed cost.
type Hasher struct {
	cost int
}

// New returns a Hasher for the given cost. Out-of-range costs fall back to
// bcrypt.DefaultCost.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the bcrypt cost used for new digests.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a salted digest of plaintext. Two calls with the same input
// return different digests that both verify.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		digest []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
		done <- result{digest: digest, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, bcrypt.ErrPasswordTooLong) {
				return "", ErrPasswordTooLong
			}
			return "", fmt.Errorf("hash password: %w", res.err)
		}
		return string(res.digest), nil
	}
}

// Verify reports whether plaintext matches digest. A mismatch is (false, nil);
// a digest that is not a valid bcrypt hash yields an error wrapping
// ErrMalformedHash.
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	done := make(chan error, 1)
	go func() {
		done <- bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-done:
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword),
			errors.Is(err, bcrypt.ErrPasswordTooLong):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
	}
}
