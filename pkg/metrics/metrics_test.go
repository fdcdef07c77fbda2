package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors are registered under the default namespace", func() {
				manager.recalculations.WithLabelValues("sync").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				found := false
				for _, f := range families {
					if f.GetName() == "visibility_ranking_recalculations_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("sub"),
				WithHistogramBuckets([]float64{1, 2, 3}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and labels follow the options", func() {
				manager.recalcErrors.Inc()
				So(testutil.ToFloat64(manager.recalcErrors), ShouldEqual, 1)
				n, err := testutil.GatherAndCount(registry, "test_sub_recalculation_errors_total")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording ranking events", func() {
			before := testutil.ToFloat64(globalManager.recalculations.WithLabelValues("sweep"))
			RecordRecalculation("sweep")
			RecordRecalculationError()
			RecordScoringLatency(1.5)
			RecordFinalScore("feed", 42)
			RecordSuppressed()
			UpdateTrackedCreators(7)

			Convey("Then counters and gauges move", func() {
				So(testutil.ToFloat64(globalManager.recalculations.WithLabelValues("sweep")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.trackedCreators), ShouldEqual, 7)
			})
		})

		Convey("When recording a sweep", func() {
			RecordSweep(2.5, 10, 2, 1700000000)

			Convey("Then the last-completed gauge is set", func() {
				So(testutil.ToFloat64(globalManager.sweepLastUnix), ShouldEqual, 1700000000)
			})
		})

		Convey("When recording cache lookups", func() {
			hits := testutil.ToFloat64(globalManager.configCache.WithLabelValues("hit"))
			RecordConfigCache(true)
			RecordConfigCache(false)

			Convey("Then hits and misses are separated", func() {
				So(testutil.ToFloat64(globalManager.configCache.WithLabelValues("hit")), ShouldEqual, hits+1)
			})
		})

		Convey("When recording the rest", func() {
			So(func() {
				RecordStoreLatency("save", 0.2)
				RecordAuditEntry("update_global")
				UpdateActiveExperiments(2)
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				RecordQueueEnqueue()
				RecordQueueDropped()
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(1)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				RecordHTTPRequest("/v1/x", "GET", "200")
				RecordHTTPRequestDuration("/v1/x", "GET", "200", 1)
				RecordErrorByComponent("api", "validation")
			}, ShouldNotPanic)
		})

		Convey("Then the registry exposes the collectors", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(strings.Join(names, ","), ShouldContainSubstring, "visibility_ranking_")
		})
	})
}
