package model

import "errors"

var (
	// ErrUnknownSurface is returned when a surface name is not recognised.
	ErrUnknownSurface = errors.New("unknown surface")
	// ErrUnknownTier is returned when a tier name is not recognised.
	ErrUnknownTier = errors.New("unknown tier")
)
