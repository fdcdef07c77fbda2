package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/visibility/internal/app"
)

type fakeSweeper struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSweeper) RecalculateAll(ctx context.Context) (service.SweepResult, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return service.SweepResult{}, ctx.Err()
		}
	}
	return service.SweepResult{Processed: 1}, nil
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSweepJob(t *testing.T) {
	Convey("Given a sweep job on a mock clock", t, func() {
		mock := clock.NewMock()
		sw := &fakeSweeper{}
		job := NewSweepJob(sw, WithClock(mock), WithInterval(24*time.Hour))
		ctx := context.Background()

		Convey("It sweeps once per interval", func() {
			job.Start(ctx)
			So(job.IsRunning(), ShouldBeTrue)

			mock.Add(23 * time.Hour)
			So(sw.calls.Load(), ShouldEqual, 0)

			mock.Add(time.Hour)
			So(eventually(func() bool { return sw.calls.Load() == 1 }), ShouldBeTrue)

			mock.Add(24 * time.Hour)
			So(eventually(func() bool { return sw.calls.Load() == 2 }), ShouldBeTrue)

			job.Stop()
			So(job.IsRunning(), ShouldBeFalse)
			mock.Add(48 * time.Hour)
			time.Sleep(20 * time.Millisecond)
			So(sw.calls.Load(), ShouldEqual, 2)
		})

		Convey("Start and Stop are idempotent", func() {
			job.Start(ctx)
			job.Start(ctx)
			job.Stop()
			job.Stop()
			So(job.IsRunning(), ShouldBeFalse)
		})

		Convey("RunNow refuses to overlap a running sweep", func() {
			sw.block = make(chan struct{})
			sw.started = make(chan struct{}, 1)
			done := make(chan error, 1)
			go func() {
				_, err := job.RunNow(ctx)
				done <- err
			}()
			<-sw.started

			_, err := job.RunNow(ctx)
			So(errors.Is(err, ErrSweepInProgress), ShouldBeTrue)

			close(sw.block)
			So(<-done, ShouldBeNil)
		})
	})

	Convey("RunNow applies the job timeout", t, func() {
		sw := &fakeSweeper{block: make(chan struct{})}
		job := NewSweepJob(sw, WithTimeout(10*time.Millisecond))
		_, err := job.RunNow(context.Background())
		So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
	})
}
