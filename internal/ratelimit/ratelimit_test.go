package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitForRequest_FreshChannelAdmitsImmediately(t *testing.T) {
	l := New()
	defer l.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := l.WaitForRequest(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Error("fresh channel did not admit promptly")
	}
}

func TestChannelDelay_WindowFills(t *testing.T) {
	l := New()
	defer l.Stop()

	for i := 0; i < channelMaxHits; i++ {
		l.RecordRequest("c1")
	}
	if d := l.channelDelay("c1", time.Now()); d <= 0 {
		t.Errorf("full window admits immediately, delay = %v", d)
	}
	// Another channel is unaffected.
	if d := l.channelDelay("c2", time.Now()); d != 0 {
		t.Errorf("unrelated channel delayed by %v", d)
	}
}

func TestChannelDelay_WindowSlides(t *testing.T) {
	l := New()
	defer l.Stop()

	l.RecordRequest("c1")
	future := time.Now().Add(channelWindow + time.Second)
	if d := l.channelDelay("c1", future); d != 0 {
		t.Errorf("expired hits still counted, delay = %v", d)
	}
}

func TestWaitForRequest_ContextCancel(t *testing.T) {
	l := New()
	defer l.Stop()

	for i := 0; i < channelMaxHits; i++ {
		l.RecordRequest("c1")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.WaitForRequest(ctx, "c1"); err == nil {
		t.Error("blocked wait ignored context deadline")
	}
}

func TestWindowTrim(t *testing.T) {
	now := time.Now()
	w := &window{hits: []time.Time{
		now.Add(-2 * channelWindow),
		now.Add(-channelWindow - time.Second),
		now.Add(-time.Second),
	}}
	w.trim(now)
	if len(w.hits) != 1 {
		t.Errorf("trim kept %d hits, want 1", len(w.hits))
	}
}

func TestStop_Idempotent(t *testing.T) {
	l := New()
	l.Stop()
	l.Stop() // must not panic
}
