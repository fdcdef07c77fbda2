package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/visibility/internal/auth"
	"github.com/okian/visibility/internal/config"
	"github.com/okian/visibility/pkg/logger"
)

func TestConfigLoading(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		_ = os.Setenv("VISIBILITY_ADDR", ":8080")
		_ = os.Setenv("VISIBILITY_QUEUE_SIZE", "1000")
		_ = os.Setenv("VISIBILITY_WORKER_COUNT", "4")
		defer func() {
			_ = os.Unsetenv("VISIBILITY_ADDR")
			_ = os.Unsetenv("VISIBILITY_QUEUE_SIZE")
			_ = os.Unsetenv("VISIBILITY_WORKER_COUNT")
		}()

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
		})
	})
}

func TestBuild(t *testing.T) {
	convey.Convey("Given an in-memory configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.JWTSecret = "test-secret"
		cfg.WorkerCount = 2

		st, err := build(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer st.close()

		serve := func(method, path, token, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			st.mux.ServeHTTP(w, req)
			return w
		}

		convey.Convey("Then the landing page and docs are served", func() {
			convey.So(serve("GET", "/", "", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(serve("GET", "/api-docs", "", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(serve("GET", "/openapi.yaml", "", "").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then creators can be scored and ranked", func() {
			body := `{"country_code":"US","metrics":{"activity_count":50,"average_rating":4.5,"total_earnings":5000,"total_transactions":10}}`
			convey.So(serve("POST", "/v1/creators/c-1/score", "", body).Code, convey.ShouldEqual, http.StatusOK)
			w := serve("GET", "/v1/surfaces/discovery/top?country=US", "", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"user_id":"c-1"`)
		})

		convey.Convey("Then admin routes accept tokens signed with the configured secret", func() {
			token, err := auth.NewService(cfg.JWTSecret).Issue("admin-1", auth.RoleAdmin, time.Hour)
			convey.So(err, convey.ShouldBeNil)
			convey.So(serve("GET", "/v1/admin/config/global", token, "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(serve("GET", "/v1/admin/config/global", "", "").Code, convey.ShouldEqual, http.StatusUnauthorized)
		})

		convey.Convey("Then repeated idempotency keys are acknowledged once", func() {
			convey.So(st.svc.Start(ctx), convey.ShouldBeNil)
			defer st.svc.Stop()

			body := `{"country_code":"US","metrics":{"activity_count":5}}`
			post := func() int {
				req := httptest.NewRequest("POST", "/v1/creators/c-2/metrics", bytes.NewBufferString(body))
				req.Header.Set("Idempotency-Key", "k-1")
				w := httptest.NewRecorder()
				st.mux.ServeHTTP(w, req)
				return w.Code
			}
			convey.So(post(), convey.ShouldEqual, http.StatusAccepted)
			convey.So(post(), convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the pipeline starts and stops", func() {
			convey.So(st.svc.Start(ctx), convey.ShouldBeNil)
			convey.So(st.svc.GetStats(ctx).Started, convey.ShouldBeTrue)
			st.svc.Stop()
			convey.So(st.svc.GetStats(ctx).Started, convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given no jwt secret", t, func() {
		cfg := config.New()
		st, err := build(context.Background(), cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer st.close()

		convey.Convey("Then admin routes reject every request", func() {
			for _, path := range []string{"/v1/admin/config/global", "/v1/admin/audit", "/v1/admin/config/safety"} {
				w := httptest.NewRecorder()
				st.mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)
			}
			w := httptest.NewRecorder()
			st.mux.ServeHTTP(w, httptest.NewRequest("POST", "/v1/admin/recalculate", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)
		})
	})

	convey.Convey("Given an unreachable redis", t, func() {
		cfg := config.New()
		cfg.RedisAddr = "127.0.0.1:1"

		convey.Convey("Then build fails", func() {
			_, err := build(context.Background(), cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a cancelled context", t, func() {
		cfg := config.New()
		cfg.Addr = "127.0.0.1:0"
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		convey.Convey("Then run shuts down cleanly", func() {
			convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given an address that cannot be bound", t, func() {
		cfg := config.New()
		cfg.Addr = "256.0.0.1:bad"

		convey.Convey("Then run reports the listen error", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldNotBeNil)
		})
	})
}
