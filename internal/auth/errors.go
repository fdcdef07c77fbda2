package auth

import "errors"

var (
	// ErrUnauthorized is returned for a missing, malformed or expired token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a valid token lacks the admin role.
	ErrForbidden = errors.New("forbidden")
	// ErrEmptySubject is returned when issuing a token without a subject.
	ErrEmptySubject = errors.New("subject cannot be empty")
	// ErrNoSecret is returned when the service has no signing secret.
	ErrNoSecret = errors.New("jwt secret is not configured")
)
