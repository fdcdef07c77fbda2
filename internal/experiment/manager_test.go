package experiment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/visibility/internal/adapters/repository"
	"github.com/okian/visibility/internal/domain/bucketing"
	"github.com/okian/visibility/internal/domain/model"
)

func allExcluded() *model.ExcludedFromTest {
	return &model.ExcludedFromTest{
		RevenueChanges:      true,
		PayoutChanges:       true,
		RefundPolicyChanges: true,
		SafetyChanges:       true,
	}
}

func draft(now time.Time, pct float64) Draft {
	return Draft{
		Name:                "feed recency boost",
		Enabled:             true,
		TestGroupPercentage: pct,
		TestConfig: model.RankingConfigPatch{
			Feed: &model.FeedPatch{Recency: model.Float(0.5)},
		},
		ExcludedFromTest: allExcluded(),
		StartDate:        now.Add(-time.Hour),
		EndDate:          now.Add(24 * time.Hour),
	}
}

func TestCreate(t *testing.T) {
	Convey("Given a manager", t, func() {
		ctx := context.Background()
		mock := clock.NewMock()
		mock.Set(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
		store := repository.NewMemoryConfigStore()
		audit := repository.NewMemoryAuditLog()
		m := New(store, audit, nil, WithClock(mock))

		Convey("A valid draft is stored and audited", func() {
			id, err := m.Create(ctx, draft(mock.Now(), 50), "admin-1")
			So(err, ShouldBeNil)
			So(id, ShouldNotBeEmpty)

			e, err := m.Get(ctx, id)
			So(err, ShouldBeNil)
			So(e.CreatedBy, ShouldEqual, "admin-1")
			So(e.CreatedAt.Equal(mock.Now()), ShouldBeTrue)

			entries, _ := audit.List(ctx, 10, 0)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Action, ShouldEqual, model.ActionCreateTest)
			So(entries[0].EntityID, ShouldEqual, id)
		})

		Convey("safetyChanges=false is rejected before persistence", func() {
			d := draft(mock.Now(), 50)
			d.ExcludedFromTest.SafetyChanges = false
			_, err := m.Create(ctx, d, "admin-1")
			So(errors.Is(err, ErrExclusionsRequired), ShouldBeTrue)

			all, _ := m.List(ctx)
			So(all, ShouldBeEmpty)
			entries, _ := audit.List(ctx, 10, 0)
			So(entries, ShouldBeEmpty)
		})

		Convey("A missing exclusion record is rejected", func() {
			d := draft(mock.Now(), 50)
			d.ExcludedFromTest = nil
			_, err := m.Create(ctx, d, "admin-1")
			So(errors.Is(err, ErrExclusionsRequired), ShouldBeTrue)
		})

		Convey("Percentages outside [0,100] are rejected", func() {
			for _, pct := range []float64{-1, 100.5} {
				_, err := m.Create(ctx, draft(mock.Now(), pct), "admin-1")
				So(errors.Is(err, ErrInvalidPercentage), ShouldBeTrue)
			}
			_, err := m.Create(ctx, draft(mock.Now(), 100), "admin-1")
			So(err, ShouldBeNil)
		})

		Convey("start >= end is rejected", func() {
			d := draft(mock.Now(), 10)
			d.EndDate = d.StartDate
			_, err := m.Create(ctx, d, "admin-1")
			So(errors.Is(err, ErrInvalidWindow), ShouldBeTrue)
		})

		Convey("Segments are validated and canonicalized", func() {
			d := draft(mock.Now(), 10)
			d.TargetSegments = []string{"country:us", "Tier:VIP"}
			id, err := m.Create(ctx, d, "admin-1")
			So(err, ShouldBeNil)
			e, _ := m.Get(ctx, id)
			So(e.TargetSegments, ShouldResemble, []string{"country:US", "tier:vip"})

			d.TargetSegments = []string{"city:berlin"}
			_, err = m.Create(ctx, d, "admin-1")
			So(errors.Is(err, ErrInvalidSegment), ShouldBeTrue)
		})

		Convey("Negative test weights are rejected", func() {
			d := draft(mock.Now(), 10)
			d.TestConfig.Feed.Recency = model.Float(-1)
			_, err := m.Create(ctx, d, "admin-1")
			So(errors.Is(err, ErrInvalidExperiment), ShouldBeTrue)
		})
	})
}

func TestLifecycle(t *testing.T) {
	Convey("Given an active experiment", t, func() {
		ctx := context.Background()
		mock := clock.NewMock()
		mock.Set(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
		store := repository.NewMemoryConfigStore()
		audit := repository.NewMemoryAuditLog()
		scores := repository.NewTreapStore()
		m := New(store, audit, scores, WithClock(mock))
		id, err := m.Create(ctx, draft(mock.Now(), 50), "admin-1")
		So(err, ShouldBeNil)

		Convey("It is active inside its window only", func() {
			active, err := m.GetActive(ctx)
			So(err, ShouldBeNil)
			So(active, ShouldHaveLength, 1)

			mock.Add(24 * time.Hour)
			active, err = m.GetActive(ctx)
			So(err, ShouldBeNil)
			So(active, ShouldBeEmpty)
		})

		Convey("Experiments scheduled for later are not active yet", func() {
			d := draft(mock.Now(), 50)
			d.StartDate = mock.Now().Add(time.Hour)
			_, err := m.Create(ctx, d, "admin-1")
			So(err, ShouldBeNil)
			active, _ := m.GetActive(ctx)
			So(active, ShouldHaveLength, 1)
		})

		Convey("Update merges and re-validates", func() {
			pct := 75.0
			e, err := m.Update(ctx, id, Update{TestGroupPercentage: &pct}, "admin-2")
			So(err, ShouldBeNil)
			So(e.TestGroupPercentage, ShouldEqual, 75)
			So(e.Name, ShouldEqual, "feed recency boost")

			bad := 101.0
			_, err = m.Update(ctx, id, Update{TestGroupPercentage: &bad}, "admin-2")
			So(errors.Is(err, ErrInvalidPercentage), ShouldBeTrue)

			_, err = m.Update(ctx, id, Update{ExcludedFromTest: &model.ExcludedFromTest{}}, "admin-2")
			So(errors.Is(err, ErrExclusionsRequired), ShouldBeTrue)

			stored, _ := m.Get(ctx, id)
			So(stored.TestGroupPercentage, ShouldEqual, 75)

			entries, _ := audit.List(ctx, 1, 0)
			So(entries[0].Action, ShouldEqual, model.ActionUpdateTest)
			So(entries[0].Before, ShouldNotBeEmpty)
		})

		Convey("Disable ends the window at now", func() {
			mock.Add(time.Hour)
			e, err := m.Disable(ctx, id, "admin-2")
			So(err, ShouldBeNil)
			So(e.Enabled, ShouldBeFalse)
			So(e.EndDate.Equal(mock.Now()), ShouldBeTrue)

			active, _ := m.GetActive(ctx)
			So(active, ShouldBeEmpty)

			entries, _ := audit.List(ctx, 1, 0)
			So(entries[0].Action, ShouldEqual, model.ActionDisableTest)
		})

		Convey("A scheduled experiment stays editable after Disable", func() {
			d := draft(mock.Now(), 50)
			d.StartDate = mock.Now().Add(48 * time.Hour)
			d.EndDate = mock.Now().Add(72 * time.Hour)
			later, err := m.Create(ctx, d, "admin-1")
			So(err, ShouldBeNil)

			e, err := m.Disable(ctx, later, "admin-2")
			So(err, ShouldBeNil)
			So(e.Enabled, ShouldBeFalse)
			So(e.StartDate.Before(e.EndDate), ShouldBeTrue)

			name := "renamed"
			e, err = m.Update(ctx, later, Update{Name: &name}, "admin-2")
			So(err, ShouldBeNil)
			So(e.Name, ShouldEqual, "renamed")
			So(e.Enabled, ShouldBeFalse)
		})

		Convey("Unknown ids report ErrNotFound", func() {
			_, err := m.Get(ctx, "nope")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			_, err = m.Disable(ctx, "nope", "admin-2")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			_, err = m.GetResults(ctx, "nope")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("GetResults counts persisted groups", func() {
			for i, group := range []string{model.GroupTest, model.GroupTest, model.GroupControl} {
				So(scores.Save(ctx, model.CreatorRankingScore{
					UserID:          fmt.Sprintf("u%d", i),
					ExperimentID:    id,
					ExperimentGroup: group,
				}), ShouldBeNil)
			}
			So(scores.Save(ctx, model.CreatorRankingScore{UserID: "other"}), ShouldBeNil)

			res, err := m.GetResults(ctx, id)
			So(err, ShouldBeNil)
			So(res.Test, ShouldEqual, 2)
			So(res.Control, ShouldEqual, 1)
			So(res.Total, ShouldEqual, 3)
		})
	})
}

func TestAssign(t *testing.T) {
	Convey("Given experiments at various percentages", t, func() {
		ctx := context.Background()
		mock := clock.NewMock()
		mock.Set(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
		m := New(repository.NewMemoryConfigStore(), repository.NewMemoryAuditLog(), nil, WithClock(mock))

		Convey("A 0% experiment places nobody in test", func() {
			id, err := m.Create(ctx, draft(mock.Now(), 0), "admin-1")
			So(err, ShouldBeNil)
			for i := 0; i < 500; i++ {
				a, err := m.Assign(ctx, model.Subject{UserID: fmt.Sprintf("user-%d", i)})
				So(err, ShouldBeNil)
				So(a.InTest(), ShouldBeFalse)
				So(a.ExperimentID, ShouldEqual, id)
				So(a.Group, ShouldEqual, model.GroupControl)
			}
		})

		Convey("A 100% experiment places everyone in test with its config", func() {
			id, err := m.Create(ctx, draft(mock.Now(), 100), "admin-1")
			So(err, ShouldBeNil)
			a, err := m.Assign(ctx, model.Subject{UserID: "anyone"})
			So(err, ShouldBeNil)
			So(a.InTest(), ShouldBeTrue)
			So(a.ExperimentID, ShouldEqual, id)
			So(*a.Config.Feed.Recency, ShouldEqual, 0.5)
		})

		Convey("Assignment follows the bucket", func() {
			id, err := m.Create(ctx, draft(mock.Now(), 30), "admin-1")
			So(err, ShouldBeNil)
			for i := 0; i < 200; i++ {
				user := fmt.Sprintf("creator-%d", i)
				a, err := m.Assign(ctx, model.Subject{UserID: user})
				So(err, ShouldBeNil)
				So(a.InTest(), ShouldEqual, bucketing.Bucket(user, id) < 30)
			}
		})

		Convey("The first experiment placing the user in test wins", func() {
			first, err := m.Create(ctx, draft(mock.Now(), 0), "admin-1")
			So(err, ShouldBeNil)
			second, err := m.Create(ctx, draft(mock.Now(), 100), "admin-1")
			So(err, ShouldBeNil)
			So(first, ShouldNotEqual, second)

			a, err := m.Assign(ctx, model.Subject{UserID: "u1"})
			So(err, ShouldBeNil)
			So(a.ExperimentID, ShouldEqual, second)
			So(a.Group, ShouldEqual, model.GroupTest)
		})

		Convey("Segments restrict eligibility", func() {
			d := draft(mock.Now(), 100)
			d.TargetSegments = []string{"country:BR", "tier:royal"}
			_, err := m.Create(ctx, d, "admin-1")
			So(err, ShouldBeNil)

			a, _ := m.Assign(ctx, model.Subject{UserID: "u1", CountryCode: "br"})
			So(a.InTest(), ShouldBeTrue)
			a, _ = m.Assign(ctx, model.Subject{UserID: "u1", CountryCode: "US", Tier: model.TierRoyal})
			So(a.InTest(), ShouldBeTrue)
			a, _ = m.Assign(ctx, model.Subject{UserID: "u1", CountryCode: "US"})
			So(a.ExperimentID, ShouldBeEmpty)
		})
	})
}
