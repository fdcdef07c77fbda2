package experiment

import "errors"

var (
	ErrNotFound           = errors.New("experiment not found")
	ErrExclusionsRequired = errors.New("experiments must exclude revenue, payout, refund-policy, and safety changes")
	ErrInvalidPercentage  = errors.New("test group percentage must be within [0,100]")
	ErrInvalidWindow      = errors.New("start date must be before end date")
	ErrInvalidSegment     = errors.New("invalid target segment")
	ErrInvalidExperiment  = errors.New("invalid experiment")
	ErrMissingAdmin       = errors.New("admin id is required")
)
