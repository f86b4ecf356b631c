package types

import "time"

// AuthEventType names a session lifecycle transition.
type AuthEventType string

const (
	EventUserRegistered      AuthEventType = "user.registered"
	EventUserLoggedIn        AuthEventType = "user.logged_in"
	EventUserTokenRefreshed  AuthEventType = "user.token_refreshed"
	EventUserLoggedOut       AuthEventType = "user.logged_out"
	EventUserPasswordChanged AuthEventType = "user.password_changed"
)

// AuthEvent is published to the message broker whenever a user's
// session state changes.
type AuthEvent struct {
	// Type identifies the transition.
	Type AuthEventType `json:"type"`

	// UserID identifies the affected user.
	UserID string `json:"userId"`

	// Email is the affected user's login key.
	Email string `json:"email"`

	// At is the time the transition happened.
	At time.Time `json:"at"`
}
