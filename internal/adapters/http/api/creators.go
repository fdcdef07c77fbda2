package api

import (
	"net/http"
	"strings"

	"github.com/okian/visibility/internal/domain/model"
)

// metricsRequest is the body of the creator score and metrics endpoints.
type metricsRequest struct {
	CountryCode string               `json:"country_code"`
	Tier        string               `json:"tier"`
	Metrics     model.RankingMetrics `json:"metrics"`
}

// idempotencyHeader carries a client key that makes metrics ingest safe to retry.
const idempotencyHeader = "Idempotency-Key"

type ackResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func creatorID(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	return id, id != ""
}

// handleRecalculate handles POST /v1/creators/{id}/score.
func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	const op = "api.recalculate"
	id, ok := creatorID(r)
	if !ok {
		s.writeError(w, r, NewKind(op, ErrBadRequest))
		return
	}
	var req metricsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	rec, err := s.deps.Ranking.Recalculate(r.Context(), id, req.Metrics, req.CountryCode, tier)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetScore handles GET /v1/creators/{id}/score.
func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	id, ok := creatorID(r)
	if !ok {
		s.writeError(w, r, NewKind(op, ErrBadRequest))
		return
	}
	rec, err := s.deps.Ranking.Score(r.Context(), id)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleIngestMetrics handles POST /v1/creators/{id}/metrics. The change is
// validated, then queued; 429 signals backpressure. A repeated
// Idempotency-Key for the same creator is acknowledged with 200 and not
// queued again.
func (s *Server) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_metrics"
	id, ok := creatorID(r)
	if !ok {
		s.writeError(w, r, NewKind(op, ErrBadRequest))
		return
	}
	var req metricsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	change := model.MetricChange{
		UserID:      id,
		CountryCode: req.CountryCode,
		Tier:        tier,
		Metrics:     req.Metrics,
	}
	if err := s.deps.Ranking.Validate(change); err != nil {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	var key string
	if k := strings.TrimSpace(r.Header.Get(idempotencyHeader)); k != "" && s.deps.Dedupe != nil {
		key = id + "/" + k
		if s.deps.Dedupe.SeenAndRecord(r.Context(), key) {
			writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", UserID: id, Duplicate: true})
			return
		}
	}
	if !s.deps.Ranking.Enqueue(r.Context(), change) {
		if key != "" {
			s.deps.Dedupe.Unrecord(r.Context(), key)
		}
		s.writeError(w, r, NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", UserID: id})
}
