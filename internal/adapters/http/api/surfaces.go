package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/visibility/internal/domain/model"
)

// handleTop handles GET /v1/surfaces/{surface}/top?country=&limit=.
func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	const op = "api.surface_top"
	surface, err := model.ParseSurface(r.PathValue("surface"))
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	q := r.URL.Query()
	n := s.maxTopLimit
	if raw := q.Get("limit"); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("invalid limit %q", raw)))
			return
		}
	}
	if n > s.maxTopLimit {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("limit exceeds %d", s.maxTopLimit)))
		return
	}
	entries, err := s.deps.Ranking.TopN(r.Context(), surface, q.Get("country"), n)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
