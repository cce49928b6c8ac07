package retryq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_SucceedsFirstAttempt(t *testing.T) {
	q := New()
	defer q.Stop()

	var calls int32
	f := q.Add(Task{
		ID:     "t1",
		Delays: []time.Duration{10 * time.Millisecond},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	if err := f.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestQueue_RetriesOnSchedule(t *testing.T) {
	q := New()
	defer q.Stop()

	var calls int32
	f := q.Add(Task{
		ID:     "t1",
		Delays: []time.Duration{5 * time.Millisecond, 5 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	})
	if err := f.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestQueue_ExhaustsAttempts(t *testing.T) {
	q := New()
	defer q.Stop()

	boom := errors.New("boom")
	var failed atomic.Bool
	f := q.Add(Task{
		ID:     "t1",
		Delays: []time.Duration{time.Millisecond},
		Run:    func(ctx context.Context) error { return boom },
		OnFailure: func(err error) {
			failed.Store(true)
		},
	})
	err := f.Wait(context.Background())
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v does not wrap the last attempt error", err)
	}
	if !failed.Load() {
		t.Error("OnFailure not invoked")
	}
}

func TestQueue_DuplicateIDReturnsSameFuture(t *testing.T) {
	q := New()
	defer q.Stop()

	release := make(chan struct{})
	f1 := q.Add(Task{
		ID: "dup",
		Run: func(ctx context.Context) error {
			<-release
			return nil
		},
	})
	f2 := q.Add(Task{
		ID:  "dup",
		Run: func(ctx context.Context) error { return nil },
	})
	if f1 != f2 {
		t.Error("second Add scheduled a new task for a pending id")
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
	close(release)
	if err := f1.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestQueue_CancelSkipsOnFailure(t *testing.T) {
	q := New()
	defer q.Stop()

	var failed atomic.Bool
	started := make(chan struct{})
	f := q.Add(Task{
		ID:     "c1",
		Delays: []time.Duration{time.Minute},
		Run: func(ctx context.Context) error {
			select {
			case <-started:
			default:
				close(started)
			}
			return errors.New("force retry wait")
		},
		OnFailure: func(err error) { failed.Store(true) },
	})
	<-started
	if !q.Cancel("c1") {
		t.Fatal("Cancel found nothing")
	}
	err := f.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if failed.Load() {
		t.Error("OnFailure fired for a cancelled task")
	}
}

func TestQueue_IDFreeAfterResolve(t *testing.T) {
	q := New()
	defer q.Stop()

	f1 := q.Add(Task{ID: "r", Run: func(ctx context.Context) error { return nil }})
	if err := f1.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	var reran atomic.Bool
	f2 := q.Add(Task{ID: "r", Run: func(ctx context.Context) error {
		reran.Store(true)
		return nil
	}})
	if err := f2.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reran.Load() {
		t.Error("resolved id could not be reused")
	}
}
