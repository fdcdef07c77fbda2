package loadgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/visibility/internal/adapters/http/api"
	"github.com/okian/visibility/internal/adapters/repository"
	service "github.com/okian/visibility/internal/app"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/internal/domain/types"
	"github.com/okian/visibility/internal/resolver"
	"github.com/okian/visibility/pkg/logger"
)

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		g := newGenerator(42, []string{"US", "DE"})
		creators := g.generateCreators(200)

		Convey("Then creators have unique ids and supported countries and tiers", func() {
			seen := make(map[string]bool)
			for _, c := range creators {
				So(seen[c.UserID], ShouldBeFalse)
				seen[c.UserID] = true
				So(c.CountryCode, ShouldBeIn, []string{"US", "DE"})
				_, err := model.ParseTier(string(c.Tier))
				So(err, ShouldBeNil)
			}
		})

		Convey("Then metrics stay within the accepted ranges", func() {
			for _, c := range creators {
				m := c.Metrics
				So(m.AverageRating, ShouldBeBetweenOrEqual, 0.0, 5.0)
				So(*m.AttractivenessScore, ShouldBeBetweenOrEqual, 0.0, 100.0)
				So(m.RefundCount, ShouldBeLessThanOrEqualTo, m.TotalTransactions)
				So(m.TotalTransactions, ShouldBeGreaterThan, 0)
			}
		})

		Convey("Then the same seed yields the same metrics", func() {
			again := newGenerator(42, []string{"US", "DE"}).generateCreators(200)
			for i := range creators {
				So(again[i].Metrics.AverageRating, ShouldEqual, creators[i].Metrics.AverageRating)
				So(again[i].CountryCode, ShouldEqual, creators[i].CountryCode)
			}
		})
	})
}

func TestVerifyTop(t *testing.T) {
	Convey("Given scores for three creators", t, func() {
		scores := map[string]model.CreatorRankingScore{
			"a": {UserID: "a", Final: model.SurfaceScores{Discovery: 70}},
			"b": {UserID: "b", Final: model.SurfaceScores{Discovery: 70}},
			"c": {UserID: "c", Final: model.SurfaceScores{Discovery: 40}},
		}

		Convey("A consistent listing verifies", func() {
			top := []types.Entry{{Rank: 1, UserID: "a", Score: 70}, {Rank: 1, UserID: "b", Score: 70}, {Rank: 2, UserID: "c", Score: 40}}
			So(verifyTop(model.SurfaceDiscovery, top, scores), ShouldBeNil)
		})

		Convey("Ties out of user id order fail", func() {
			top := []types.Entry{{UserID: "b", Score: 70}, {UserID: "a", Score: 70}}
			So(errors.Is(verifyTop(model.SurfaceDiscovery, top, scores), ErrVerification), ShouldBeTrue)
		})

		Convey("Scores that disagree with the record fail", func() {
			top := []types.Entry{{UserID: "a", Score: 69}}
			So(errors.Is(verifyTop(model.SurfaceDiscovery, top, scores), ErrVerification), ShouldBeTrue)
		})

		Convey("A head below the best creator fails", func() {
			top := []types.Entry{{UserID: "c", Score: 40}}
			So(errors.Is(verifyTop(model.SurfaceDiscovery, top, scores), ErrVerification), ShouldBeTrue)
		})

		Convey("An empty listing fails", func() {
			So(errors.Is(verifyTop(model.SurfaceDiscovery, nil, scores), ErrVerification), ShouldBeTrue)
		})
	})
}

func newTestServer() (*httptest.Server, *service.Service) {
	ctx := context.Background()
	configs := repository.NewMemoryConfigStore()
	auditLog := repository.NewMemoryAuditLog()
	scores := repository.NewTreapStore()
	res := resolver.New(configs, auditLog)
	if err := res.EnsureDefaults(ctx); err != nil {
		panic(err)
	}
	svc := service.New(res, scores, repository.NewMemorySnapshotStore(),
		service.WithWorkerCount(4),
		service.WithLogger(logger.Nop()),
	)
	mux := http.NewServeMux()
	api.NewServer(api.Dependencies{Ranking: svc, Config: res, Audit: auditLog, Stats: svc}).Register(ctx, mux)
	return httptest.NewServer(mux), svc
}

func TestRun(t *testing.T) {
	Convey("Given a service running in process", t, func() {
		srv, svc := newTestServer()
		defer srv.Close()
		cfg := &Config{
			BaseURL:    srv.URL,
			Creators:   60,
			TopN:       20,
			Workers:    4,
			Timeout:    5 * time.Second,
			Mode:       ModeSync,
			Countries:  []string{"US", "DE"},
			Seed:       7,
			Settle:     5 * time.Second,
			OutputFile: filepath.Join(t.TempDir(), "out", "creators.json"),
		}

		Convey("Then a sync run scores and verifies every creator", func() {
			stats, err := Run(context.Background(), cfg, logger.Nop())
			So(err, ShouldBeNil)
			So(stats.Accepted, ShouldEqual, 60)
			So(stats.ScoresRetrieved, ShouldEqual, 60)
			So(stats.TopEntries[model.SurfaceFeed], ShouldEqual, 20)
			So(cfg.OutputFile, ShouldNotBeEmpty)
		})

		Convey("Then an async run verifies after the queue drains", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()
			cfg.Mode = ModeAsync

			stats, err := Run(context.Background(), cfg, logger.Nop())
			So(err, ShouldBeNil)
			So(stats.Accepted, ShouldEqual, 60)
		})
	})

	Convey("Given an unreachable service", t, func() {
		cfg := &Config{BaseURL: "http://127.0.0.1:1", Creators: 1, Workers: 1, Timeout: time.Second}

		Convey("Then the health check fails", func() {
			_, err := Run(context.Background(), cfg, logger.Nop())
			So(err, ShouldNotBeNil)
		})
	})
}
