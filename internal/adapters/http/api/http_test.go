package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/visibility/internal/adapters/http/api"
	"github.com/okian/visibility/internal/adapters/repository"
	service "github.com/okian/visibility/internal/app"
	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/domain/dedupe"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/internal/experiment"
	"github.com/okian/visibility/internal/jobs"
	"github.com/okian/visibility/internal/resolver"
	"github.com/okian/visibility/pkg/logger"
)

type harness struct {
	mux    *http.ServeMux
	clock  *clock.Mock
	svc    *service.Service
	admin  string
	viewer string
}

func newHarness() *harness {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	configs := repository.NewMemoryConfigStore()
	auditLog := repository.NewMemoryAuditLog()
	scores := repository.NewTreapStore()
	snaps := repository.NewMemorySnapshotStore()

	exps := experiment.New(configs, auditLog, scores, experiment.WithClock(mock))
	res := resolver.New(configs, auditLog, resolver.WithClock(mock), resolver.WithExperiments(exps))
	if err := res.EnsureDefaults(ctx); err != nil {
		panic(err)
	}
	svc := service.New(res, scores, snaps,
		service.WithClock(mock),
		service.WithExperiments(exps),
		service.WithLogger(logger.Nop()),
	)
	authSvc := auth.NewService("test-secret", auth.WithClock(mock))
	admin, _ := authSvc.Issue("admin-1", auth.RoleAdmin, time.Hour)
	viewer, _ := authSvc.Issue("viewer-1", auth.RoleViewer, time.Hour)

	server := api.NewServer(api.Dependencies{
		Ranking:     svc,
		Config:      res,
		Experiments: exps,
		Audit:       auditLog,
		Sweeper:     jobs.NewSweepJob(svc, jobs.WithClock(mock)),
		Stats:       svc,
		Auth:        authSvc,
		Dedupe:      dedupe.NewInMemoryDeduper(dedupe.WithClock(mock)),
	}, api.WithMaxTopLimit(10))
	mux := http.NewServeMux()
	server.Register(ctx, mux)

	return &harness{mux: mux, clock: mock, svc: svc, admin: admin, viewer: viewer}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	return h.doWith(method, path, token, nil, body)
}

func (h *harness) doWith(method, path, token string, header http.Header, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder, dst any) error {
	return json.NewDecoder(w.Body).Decode(dst)
}

func baselineBody(country string) map[string]any {
	return map[string]any{
		"country_code": country,
		"tier":         "standard",
		"metrics": map[string]any{
			"activity_count":     50,
			"average_rating":     4.5,
			"total_earnings":     5000,
			"total_transactions": 10,
		},
	}
}

func TestCreatorEndpoints(t *testing.T) {
	Convey("Given the API on an in-memory stack", t, func() {
		h := newHarness()

		Convey("Recalculating a creator returns and stores the score", func() {
			w := h.do(http.MethodPost, "/v1/creators/creator-1/score", "", baselineBody("us"))
			So(w.Code, ShouldEqual, http.StatusOK)

			var rec model.CreatorRankingScore
			So(decodeBody(w, &rec), ShouldBeNil)
			So(rec.UserID, ShouldEqual, "creator-1")
			So(rec.CountryCode, ShouldEqual, "US")
			So(rec.Final.Discovery, ShouldAlmostEqual, 63.0, 1e-9)

			w = h.do(http.MethodGet, "/v1/creators/creator-1/score", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var got model.CreatorRankingScore
			So(decodeBody(w, &got), ShouldBeNil)
			So(got.Final.Discovery, ShouldAlmostEqual, 63.0, 1e-9)
		})

		Convey("Unknown creators are 404", func() {
			w := h.do(http.MethodGet, "/v1/creators/nobody/score", "", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Malformed bodies are rejected", func() {
			for _, body := range []string{`{bad json`, `{"unknown":1}`, `{} {}`} {
				w := h.do(http.MethodPost, "/v1/creators/creator-1/score", "", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("Invalid metrics and tiers are 400", func() {
			body := baselineBody("US")
			body["metrics"].(map[string]any)["average_rating"] = 9
			So(h.do(http.MethodPost, "/v1/creators/c/score", "", body).Code, ShouldEqual, http.StatusBadRequest)

			body = baselineBody("US")
			body["tier"] = "diamond"
			So(h.do(http.MethodPost, "/v1/creators/c/score", "", body).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Metrics ingest is refused while the pipeline is stopped", func() {
			w := h.do(http.MethodPost, "/v1/creators/creator-1/metrics", "", baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("Metrics ingest is accepted once the pipeline runs", func() {
			So(h.svc.Start(context.Background()), ShouldBeNil)
			defer h.svc.Stop()

			w := h.do(http.MethodPost, "/v1/creators/creator-1/metrics", "", baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusAccepted)
			var ack map[string]string
			So(decodeBody(w, &ack), ShouldBeNil)
			So(ack["status"], ShouldEqual, "accepted")
			So(ack["user_id"], ShouldEqual, "creator-1")
		})

		Convey("Invalid metrics are refused before queueing", func() {
			So(h.svc.Start(context.Background()), ShouldBeNil)
			defer h.svc.Stop()
			header := http.Header{"Idempotency-Key": {"fix-1"}}

			bad := baselineBody("US")
			bad["metrics"] = map[string]any{"average_rating": 9, "activity_count": -5}
			w := h.doWith(http.MethodPost, "/v1/creators/creator-1/metrics", "", header, bad)
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			w = h.doWith(http.MethodPost, "/v1/creators/creator-1/metrics", "", header, baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusAccepted)
		})

		Convey("A repeated idempotency key is acknowledged once", func() {
			header := http.Header{"Idempotency-Key": {"batch-7"}}

			w := h.doWith(http.MethodPost, "/v1/creators/creator-1/metrics", "", header, baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)

			So(h.svc.Start(context.Background()), ShouldBeNil)
			defer h.svc.Stop()

			w = h.doWith(http.MethodPost, "/v1/creators/creator-1/metrics", "", header, baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusAccepted)

			w = h.doWith(http.MethodPost, "/v1/creators/creator-1/metrics", "", header, baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusOK)
			var ack map[string]any
			So(decodeBody(w, &ack), ShouldBeNil)
			So(ack["status"], ShouldEqual, "duplicate")
			So(ack["duplicate"], ShouldEqual, true)

			w = h.doWith(http.MethodPost, "/v1/creators/creator-2/metrics", "", header, baselineBody("US"))
			So(w.Code, ShouldEqual, http.StatusAccepted)
		})
	})
}

func TestSurfaceTop(t *testing.T) {
	Convey("Given three scored creators", t, func() {
		h := newHarness()
		for i, rating := range []float64{3, 5, 4} {
			body := baselineBody("US")
			body["metrics"].(map[string]any)["average_rating"] = rating
			w := h.do(http.MethodPost, fmt.Sprintf("/v1/creators/creator-%d/score", i), "", body)
			So(w.Code, ShouldEqual, http.StatusOK)
		}

		Convey("Top returns them ranked by final score", func() {
			w := h.do(http.MethodGet, "/v1/surfaces/discovery/top?country=us&limit=2", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var entries []types.Entry
			So(decodeBody(w, &entries), ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[0].UserID, ShouldEqual, "creator-1")
			So(entries[0].Rank, ShouldEqual, 1)
			So(entries[1].UserID, ShouldEqual, "creator-2")
		})

		Convey("Limits outside the range are rejected", func() {
			So(h.do(http.MethodGet, "/v1/surfaces/feed/top?limit=0", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(h.do(http.MethodGet, "/v1/surfaces/feed/top?limit=11", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(h.do(http.MethodGet, "/v1/surfaces/feed/top?limit=x", "", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Unknown surfaces are rejected", func() {
			So(h.do(http.MethodGet, "/v1/surfaces/radio/top", "", nil).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAdminWithoutAuthenticator(t *testing.T) {
	Convey("Given a server with no authenticator", t, func() {
		auditLog := repository.NewMemoryAuditLog()
		mux := http.NewServeMux()
		api.NewServer(api.Dependencies{Audit: auditLog}).Register(context.Background(), mux)

		serve := func(method, path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(method, path, nil))
			return w
		}

		Convey("Every admin route is 401", func() {
			for _, tc := range []struct{ method, path string }{
				{http.MethodGet, "/v1/admin/audit"},
				{http.MethodGet, "/v1/admin/config/global"},
				{http.MethodGet, "/v1/admin/config/safety"},
				{http.MethodGet, "/v1/admin/config/countries"},
				{http.MethodGet, "/v1/admin/experiments"},
				{http.MethodPost, "/v1/admin/recalculate"},
				{http.MethodPut, "/v1/admin/config/global"},
			} {
				w := serve(tc.method, tc.path)
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(w.Header().Get("WWW-Authenticate"), ShouldNotBeEmpty)
			}
		})
	})
}

func TestAdminConfig(t *testing.T) {
	Convey("Given the admin config routes", t, func() {
		h := newHarness()

		Convey("Requests without a token are 401", func() {
			So(h.do(http.MethodGet, "/v1/admin/config/global", "", nil).Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Viewer tokens are 403", func() {
			So(h.do(http.MethodGet, "/v1/admin/config/global", h.viewer, nil).Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("Admins read the defaults", func() {
			w := h.do(http.MethodGet, "/v1/admin/config/global", h.admin, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var cfg model.RankingConfig
			So(decodeBody(w, &cfg), ShouldBeNil)
			So(cfg, ShouldResemble, model.DefaultRankingConfig())
		})

		Convey("Invalid global configs are 400", func() {
			cfg := model.DefaultRankingConfig()
			cfg.Discovery.Rating = -1
			So(h.do(http.MethodPut, "/v1/admin/config/global", h.admin, cfg).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A country override changes the next score and is audited", func() {
			override := map[string]any{
				"enabled": true,
				"config":  map[string]any{"discovery": map[string]any{"distance": 0}},
			}
			w := h.do(http.MethodPut, "/v1/admin/config/countries/de", h.admin, override)
			So(w.Code, ShouldEqual, http.StatusOK)
			var saved model.CountryOverride
			So(decodeBody(w, &saved), ShouldBeNil)
			So(saved.CountryCode, ShouldEqual, "DE")

			w = h.do(http.MethodPost, "/v1/creators/creator-1/score", "", baselineBody("DE"))
			So(w.Code, ShouldEqual, http.StatusOK)
			var rec model.CreatorRankingScore
			So(decodeBody(w, &rec), ShouldBeNil)
			So(rec.Final.Discovery, ShouldAlmostEqual, 48.0, 1e-9)

			w = h.do(http.MethodGet, "/v1/admin/config/countries", h.admin, nil)
			var list []model.CountryOverride
			So(decodeBody(w, &list), ShouldBeNil)
			So(len(list), ShouldEqual, 1)

			w = h.do(http.MethodGet, "/v1/admin/audit?limit=5", h.admin, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var entries []model.AuditLogEntry
			So(decodeBody(w, &entries), ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].AdminID, ShouldEqual, "admin-1")
			So(entries[0].EntityID, ShouldEqual, "DE")
		})

		Convey("A body country that disagrees with the path is 400", func() {
			w := h.do(http.MethodPut, "/v1/admin/config/countries/DE", h.admin, map[string]any{"country_code": "FR"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Unknown country overrides are 404", func() {
			So(h.do(http.MethodGet, "/v1/admin/config/countries/FR", h.admin, nil).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Safety and tier routing round trip", func() {
			safety := model.DefaultSafetyPenaltyConfig()
			So(h.do(http.MethodPut, "/v1/admin/config/safety", h.admin, safety).Code, ShouldEqual, http.StatusOK)
			So(h.do(http.MethodGet, "/v1/admin/config/safety", h.admin, nil).Code, ShouldEqual, http.StatusOK)

			routing := model.DefaultTierRoutingConfig()
			So(h.do(http.MethodPut, "/v1/admin/config/tier-routing", h.admin, routing).Code, ShouldEqual, http.StatusOK)
			So(h.do(http.MethodGet, "/v1/admin/config/tier-routing", h.admin, nil).Code, ShouldEqual, http.StatusOK)
		})

		Convey("Audit paging parameters are validated", func() {
			So(h.do(http.MethodGet, "/v1/admin/audit?limit=0", h.admin, nil).Code, ShouldEqual, http.StatusBadRequest)
			So(h.do(http.MethodGet, "/v1/admin/audit?offset=-1", h.admin, nil).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAdminExperiments(t *testing.T) {
	Convey("Given the admin experiment routes", t, func() {
		h := newHarness()
		draft := map[string]any{
			"name":                  "no rating",
			"enabled":               true,
			"test_group_percentage": 100,
			"test_config":           map[string]any{"discovery": map[string]any{"rating": 0}},
			"excluded_from_test": map[string]any{
				"revenue_changes": true, "payout_changes": true,
				"refund_policy_changes": true, "safety_changes": true,
			},
			"start_date": h.clock.Now().Format(time.RFC3339),
			"end_date":   h.clock.Now().Add(24 * time.Hour).Format(time.RFC3339),
		}

		Convey("An experiment without all exclusions is 400", func() {
			draft["excluded_from_test"] = map[string]any{"revenue_changes": true}
			So(h.do(http.MethodPost, "/v1/admin/experiments", h.admin, draft).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A created experiment drives scoring until disabled", func() {
			w := h.do(http.MethodPost, "/v1/admin/experiments", h.admin, draft)
			So(w.Code, ShouldEqual, http.StatusCreated)
			var created map[string]string
			So(decodeBody(w, &created), ShouldBeNil)
			id := created["id"]
			So(id, ShouldNotBeEmpty)

			w = h.do(http.MethodPost, "/v1/creators/creator-1/score", "", baselineBody("US"))
			var rec model.CreatorRankingScore
			So(decodeBody(w, &rec), ShouldBeNil)
			So(rec.ExperimentID, ShouldEqual, id)
			So(rec.ExperimentGroup, ShouldEqual, model.GroupTest)
			So(rec.Final.Discovery, ShouldAlmostEqual, 45.0, 1e-9)

			w = h.do(http.MethodGet, "/v1/admin/experiments/"+id+"/results", h.admin, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var results model.ExperimentResults
			So(decodeBody(w, &results), ShouldBeNil)
			So(results.Test, ShouldEqual, 1)

			w = h.do(http.MethodPut, "/v1/admin/experiments/"+id, h.admin, map[string]any{"name": "renamed"})
			So(w.Code, ShouldEqual, http.StatusOK)
			var updated model.Experiment
			So(decodeBody(w, &updated), ShouldBeNil)
			So(updated.Name, ShouldEqual, "renamed")

			h.clock.Add(time.Minute)
			w = h.do(http.MethodPost, "/v1/admin/experiments/"+id+"/disable", h.admin, nil)
			So(w.Code, ShouldEqual, http.StatusOK)

			w = h.do(http.MethodPost, "/v1/admin/recalculate", h.admin, nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var sweep map[string]int64
			So(decodeBody(w, &sweep), ShouldBeNil)
			So(sweep["processed"], ShouldEqual, 1)
			So(sweep["errors"], ShouldEqual, 0)

			w = h.do(http.MethodGet, "/v1/creators/creator-1/score", "", nil)
			var after model.CreatorRankingScore
			So(decodeBody(w, &after), ShouldBeNil)
			So(after.ExperimentID, ShouldBeEmpty)
			So(after.ExperimentGroup, ShouldBeEmpty)
			So(after.Final.Discovery, ShouldAlmostEqual, 63.0, 1e-9)

			w = h.do(http.MethodGet, "/v1/admin/experiments", h.admin, nil)
			var list []model.Experiment
			So(decodeBody(w, &list), ShouldBeNil)
			So(len(list), ShouldEqual, 1)
			So(list[0].Enabled, ShouldBeFalse)
		})

		Convey("Unknown experiments are 404", func() {
			So(h.do(http.MethodGet, "/v1/admin/experiments/missing", h.admin, nil).Code, ShouldEqual, http.StatusNotFound)
			So(h.do(http.MethodPost, "/v1/admin/experiments/missing/disable", h.admin, nil).Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the API", t, func() {
		h := newHarness()

		Convey("Health serves the metrics exposition", func() {
			So(h.do(http.MethodGet, "/healthz", "", nil).Code, ShouldEqual, http.StatusOK)
		})

		Convey("Stats reports the service state", func() {
			w := h.do(http.MethodGet, "/stats", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var st types.Stats
			So(decodeBody(w, &st), ShouldBeNil)
			So(st.Started, ShouldBeFalse)
		})

		Convey("A nil stats provider yields an empty document", func() {
			mux := http.NewServeMux()
			api.NewServer(api.Dependencies{}).Register(context.Background(), mux)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
		})
	})
}
