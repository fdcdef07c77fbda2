package api

import (
	"errors"
	"net/http"

	"github.com/okian/visibility/internal/adapters/repository"
	service "github.com/okian/visibility/internal/app"
	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/experiment"
	"github.com/okian/visibility/internal/jobs"
	"github.com/okian/visibility/internal/resolver"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrBackpressure = errors.New("backpressure")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// Error is an API error tagged with the operation that produced it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil && e.Kind != e.Err:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapKind tags err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind returns an error of kind with no underlying cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// classify maps an error to its HTTP status and response code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, experiment.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict),
		errors.Is(err, jobs.ErrSweepInProgress):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidLimit),
		errors.Is(err, model.ErrUnknownSurface),
		errors.Is(err, model.ErrUnknownTier),
		errors.Is(err, resolver.ErrInvalidConfig),
		errors.Is(err, resolver.ErrInvalidCountry),
		errors.Is(err, resolver.ErrMissingAdmin),
		errors.Is(err, experiment.ErrExclusionsRequired),
		errors.Is(err, experiment.ErrInvalidPercentage),
		errors.Is(err, experiment.ErrInvalidWindow),
		errors.Is(err, experiment.ErrInvalidSegment),
		errors.Is(err, experiment.ErrInvalidExperiment),
		errors.Is(err, experiment.ErrMissingAdmin):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
