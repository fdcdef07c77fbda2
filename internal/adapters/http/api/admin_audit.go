package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/visibility/internal/domain/model"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleAudit handles GET /v1/admin/audit?limit=&offset=.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	const op = "api.audit"
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultAuditLimit, 1, maxAuditLimit)
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("limit: %w", err)))
		return
	}
	offset, err := intParam(q.Get("offset"), 0, 0, -1)
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("offset: %w", err)))
		return
	}
	entries, err := s.deps.Audit.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type sweepResponse struct {
	Processed  int   `json:"processed"`
	Errors     int   `json:"errors"`
	DurationMS int64 `json:"duration_ms"`
}

// handleRecalculateAll runs a sweep synchronously. A sweep already in flight
// yields 409.
func (s *Server) handleRecalculateAll(w http.ResponseWriter, r *http.Request) {
	const op = "api.recalculate_all"
	if s.deps.Sweeper == nil {
		s.writeError(w, r, NewKind(op, ErrInternal))
		return
	}
	res, err := s.deps.Sweeper.RunNow(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		Processed:  res.Processed,
		Errors:     res.Errors,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// intParam parses raw, falling back to def when empty. A negative hi means no
// upper bound.
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if n < lo || (hi >= 0 && n > hi) {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}
