package resolver

import "errors"

// Sentinel errors for configuration resolution and admin updates.
var (
	ErrInvalidConfig  = errors.New("invalid ranking config")
	ErrInvalidCountry = errors.New("invalid country code")
	ErrMissingAdmin   = errors.New("admin id is required")
)
