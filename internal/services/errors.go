package services

import (
	"errors"

	"github.com/smarthatch/authserver/internal/store"
)

var (
	// ErrValidation is returned when a required field is missing or unusable.
	ErrValidation = errors.New("validation error")

	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. The two cases are deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("email or password is incorrect")

	// ErrUserNotFound is returned when a token refers to a user that no
	// longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail is returned when registering an email that is taken.
	ErrDuplicateEmail = store.ErrDuplicateEmail
)

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
