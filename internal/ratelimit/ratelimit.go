// Package ratelimit budgets outbound requests to the chat provider.
// Two limits stack: a global token bucket (50 req/s) and a per-source-channel
// sliding window (5 req/60s). Callers block in WaitForRequest until both
// budgets admit them, then call RecordRequest after the request is issued.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	globalPerSecond = 50
	channelWindow   = 60 * time.Second
	channelMaxHits  = 5
	sweepInterval   = 60 * time.Second
)

type window struct {
	hits []time.Time
}

// Limiter is the combined global + per-channel budget. Safe for concurrent use.
type Limiter struct {
	global *rate.Limiter

	mu       sync.Mutex
	channels map[string]*window

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a limiter and starts its housekeeping sweep.
func New() *Limiter {
	l := &Limiter{
		global:   rate.NewLimiter(rate.Limit(globalPerSecond), globalPerSecond),
		channels: make(map[string]*window),
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// WaitForRequest suspends until both the global and per-channel budgets can
// admit one request for channelID, or ctx is done.
func (l *Limiter) WaitForRequest(ctx context.Context, channelID string) error {
	if err := l.global.Wait(ctx); err != nil {
		return err
	}
	for {
		wait := l.channelDelay(channelID, time.Now())
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordRequest counts one issued request against channelID's window.
func (l *Limiter) RecordRequest(channelID string) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.channels[channelID]
	if !ok {
		w = &window{}
		l.channels[channelID] = w
	}
	w.trim(now)
	w.hits = append(w.hits, now)
}

// channelDelay returns how long until the channel window admits a request.
func (l *Limiter) channelDelay(channelID string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.channels[channelID]
	if !ok {
		return 0
	}
	w.trim(now)
	if len(w.hits) < channelMaxHits {
		return 0
	}
	return w.hits[0].Add(channelWindow).Sub(now)
}

func (w *window) trim(now time.Time) {
	cutoff := now.Add(-channelWindow)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// sweepLoop drops empty window buckets so idle channels do not accumulate.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for id, w := range l.channels {
				w.trim(now)
				if len(w.hits) == 0 {
					delete(l.channels, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop halts the housekeeping sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
