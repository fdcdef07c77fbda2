package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/visibility/internal/adapters/mq/queue"
	worker "github.com/okian/visibility/internal/adapters/mq/worker"
	"github.com/okian/visibility/internal/domain/model"
	logging "github.com/okian/visibility/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	events chan queue.Event
}

func newMockQueue() *mockQueue {
	return &mockQueue{events: make(chan queue.Event, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Event { return mq.events }

func (mq *mockQueue) add(e queue.Event) { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	mq.events <- e
}

type mockRecalculator struct {
	mu      sync.Mutex
	applied map[string]int
	errs    map[string]error
	delay   time.Duration
}

func newMockRecalculator() *mockRecalculator {
	return &mockRecalculator{applied: map[string]int{}, errs: map[string]error{}}
}

func (m *mockRecalculator) Apply(_ context.Context, e queue.Event) error { //nolint:gocritic // hugeParam: mirrors the interface
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[e.UserID]; ok {
		return err
	}
	m.applied[e.UserID]++
	return nil
}

func (m *mockRecalculator) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[id]
}

func (m *mockRecalculator) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.applied {
		n += c
	}
	return n
}

// recordingLogger keeps error messages so tests can see which logger a
// component wrote to.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Info(context.Context, string, ...logging.Field)  {}
func (l *recordingLogger) Debug(context.Context, string, ...logging.Field) {}
func (l *recordingLogger) Warn(context.Context, string, ...logging.Field)  {}
func (l *recordingLogger) Fatal(context.Context, string, ...logging.Field) {}
func (l *recordingLogger) Named(string) logging.Logger                    { return l }

func (l *recordingLogger) Error(_ context.Context, msg string, _ ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func change(id string) queue.Event {
	return model.MetricChange{UserID: id, CountryCode: "US"}
}

func TestWorker(t *testing.T) {
	if err := logging.Init(); err != nil {
		t.Fatal(err)
	}

	convey.Convey("Given a worker over a mock queue", t, func() {
		q := newMockQueue()
		rec := newMockRecalculator()
		w := worker.NewInMemoryWorker(q, rec, worker.WithName("w-test"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("It applies each change", func() {
			q.add(change("a"))
			q.add(change("b"))
			convey.So(waitFor(func() bool { return rec.total() == 2 }), convey.ShouldBeTrue)
			convey.So(rec.count("a"), convey.ShouldEqual, 1)
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})

		convey.Convey("Errors do not stop the loop", func() {
			rec.errs["bad"] = errors.New("store down")
			q.add(change("bad"))
			q.add(change("good"))
			convey.So(waitFor(func() bool { return rec.count("good") == 1 }), convey.ShouldBeTrue)
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})

		convey.Convey("Shutdown is idempotent", func() {
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	if err := logging.Init(); err != nil {
		t.Fatal(err)
	}

	convey.Convey("Given a pool over a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))
		rec := newMockRecalculator()
		rec.delay = time.Millisecond
		p := worker.NewPool(4, q, rec)
		convey.So(p.Size(), convey.ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		convey.Convey("Shutdown drains queued changes", func() {
			for i := 0; i < 100; i++ {
				convey.So(q.Enqueue(ctx, change(fmt.Sprintf("u%d", i))), convey.ShouldBeTrue)
			}
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(rec.total(), convey.ShouldEqual, 100)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a pool with an injected logger", t, func() {
		log := &recordingLogger{}
		q := newMockQueue()
		rec := newMockRecalculator()
		rec.errs["bad"] = errors.New("store down")
		p := worker.NewPool(2, q, rec, worker.WithLogger(log))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		convey.Convey("Worker failures are written to that logger", func() {
			q.add(change("bad"))
			convey.So(waitFor(func() bool { return log.errorCount() == 1 }), convey.ShouldBeTrue)
			cancel()
		})
	})

	convey.Convey("A zero worker count falls back to the CPU default", t, func() {
		p := worker.NewPool(0, newMockQueue(), newMockRecalculator())
		convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
