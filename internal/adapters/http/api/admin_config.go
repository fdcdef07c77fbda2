package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/domain/model"
)

// adminBody resolves the calling admin and decodes the request body into dst.
func adminBody(r *http.Request, op string, dst any) (string, error) {
	adminID, err := auth.RequireAdmin(r.Context())
	if err != nil {
		return "", Wrap(op, err)
	}
	if err := decode(r, dst); err != nil {
		return "", WrapKind(op, ErrBadRequest, err)
	}
	return adminID, nil
}

func (s *Server) handleGetGlobal(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Config.Global(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap("api.get_global", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutGlobal(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_global"
	var cfg model.RankingConfig
	adminID, err := adminBody(r, op, &cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Config.UpdateGlobal(r.Context(), cfg, adminID); err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListCountries(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Config.ListCountries(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap("api.list_countries", err))
		return
	}
	if list == nil {
		list = []model.CountryOverride{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCountry(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Config.Country(r.Context(), r.PathValue("country"))
	if err != nil {
		s.writeError(w, r, Wrap("api.get_country", err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handlePutCountry upserts the override named by the path. A country code in
// the body must agree with the path.
func (s *Server) handlePutCountry(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_country"
	var o model.CountryOverride
	adminID, err := adminBody(r, op, &o)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := r.PathValue("country")
	if o.CountryCode != "" && !strings.EqualFold(o.CountryCode, code) {
		s.writeError(w, r, WrapKind(op, ErrBadRequest,
			fmt.Errorf("body country %q does not match path %q", o.CountryCode, code)))
		return
	}
	o.CountryCode = code
	saved, err := s.deps.Config.UpdateCountry(r.Context(), o, adminID)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetSafety(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Config.Safety(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap("api.get_safety", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutSafety(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_safety"
	var cfg model.SafetyPenaltyConfig
	adminID, err := adminBody(r, op, &cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Config.UpdateSafety(r.Context(), cfg, adminID); err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetTierRouting(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Config.TierRouting(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap("api.get_tier_routing", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutTierRouting(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_tier_routing"
	var cfg model.TierRoutingConfig
	adminID, err := adminBody(r, op, &cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Config.UpdateTierRouting(r.Context(), cfg, adminID); err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
