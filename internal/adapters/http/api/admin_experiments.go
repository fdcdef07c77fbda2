package api

import (
	"net/http"

	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/experiment"
)

type createdResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Experiments.List(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap("api.list_experiments", err))
		return
	}
	if list == nil {
		list = []model.Experiment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_experiment"
	var d experiment.Draft
	adminID, err := adminBody(r, op, &d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.deps.Experiments.Create(r.Context(), d, adminID)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Experiments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, Wrap("api.get_experiment", err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_experiment"
	var u experiment.Update
	adminID, err := adminBody(r, op, &u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.deps.Experiments.Update(r.Context(), r.PathValue("id"), u, adminID)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDisableExperiment(w http.ResponseWriter, r *http.Request) {
	const op = "api.disable_experiment"
	adminID, err := auth.RequireAdmin(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	e, err := s.deps.Experiments.Disable(r.Context(), r.PathValue("id"), adminID)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExperimentResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Experiments.GetResults(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, Wrap("api.experiment_results", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
