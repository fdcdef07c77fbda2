package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/okian/visibility/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEntry(t *testing.T) {
	Convey("Given an Entry struct", t, func() {
		Convey("When it has no experiment", func() {
			entry := types.Entry{Rank: 1, UserID: "creator-1", Score: 63}

			Convey("Then the experiment id is omitted from JSON", func() {
				b, err := json.Marshal(entry)
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"rank":1,"user_id":"creator-1","score":63}`)
			})
		})

		Convey("When it carries an experiment id", func() {
			entry := types.Entry{Rank: 2, UserID: "creator-2", Score: 44.1, ExperimentID: "exp-1"}

			Convey("Then the id is serialised", func() {
				b, err := json.Marshal(entry)
				So(err, ShouldBeNil)
				So(string(b), ShouldContainSubstring, `"experiment_id":"exp-1"`)
			})
		})
	})
}
