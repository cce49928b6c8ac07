// Package retryq is a keyed retry queue: each task is identified by an id,
// runs up to its attempt budget on an explicit delay schedule, and yields a
// future the enqueuer can wait on. Re-adding an id that is still pending
// returns the original future instead of scheduling twice.
package retryq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAttemptsExhausted reports that every scheduled attempt failed.
var ErrAttemptsExhausted = errors.New("retryq: attempts exhausted")

// TaskFunc performs one attempt. A nil error resolves the task.
type TaskFunc func(ctx context.Context) error

// Task describes one unit of retried work.
type Task struct {
	ID        string
	Run       TaskFunc
	Delays    []time.Duration // delay before attempt N+1; len+1 = max attempts
	OnSuccess func()
	OnFailure func(err error)
}

// Future resolves when the task finishes.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}

// Done exposes the completion channel.
func (f *Future) Done() <-chan struct{} { return f.done }

type pending struct {
	task    Task
	future  *Future
	cancel  context.CancelFunc
	addedAt time.Time
}

// Queue runs keyed retry tasks. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*pending

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a queue and starts its hourly stale-task cleanup.
func New() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pending: make(map[string]*pending),
		baseCtx: ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.cleanupLoop()
	return q
}

// Add schedules a task. If the id is already pending, the existing future is
// returned and the new task is discarded (idempotence by id).
func (q *Queue) Add(t Task) *Future {
	q.mu.Lock()
	if p, ok := q.pending[t.ID]; ok {
		q.mu.Unlock()
		return p.future
	}
	taskCtx, taskCancel := context.WithCancel(q.baseCtx)
	p := &pending{
		task:    t,
		future:  &Future{done: make(chan struct{})},
		cancel:  taskCancel,
		addedAt: time.Now(),
	}
	q.pending[t.ID] = p
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(taskCtx, p)
	return p.future
}

// Cancel aborts a pending task by id. Returns whether anything was cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	p, ok := q.pending[id]
	q.mu.Unlock()
	if !ok {
		return false
	}
	p.cancel()
	return true
}

func (q *Queue) run(ctx context.Context, p *pending) {
	defer q.wg.Done()

	maxAttempts := len(p.task.Delays) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.task.Delays[attempt-1])
			select {
			case <-ctx.Done():
				timer.Stop()
				q.resolve(p, ctx.Err())
				return
			case <-timer.C:
			}
		}
		if err := p.task.Run(ctx); err != nil {
			lastErr = err
			continue
		}
		q.resolve(p, nil)
		return
	}
	if lastErr == nil {
		lastErr = ErrAttemptsExhausted
	}
	q.resolve(p, errors.Join(ErrAttemptsExhausted, lastErr))
}

func (q *Queue) resolve(p *pending, err error) {
	q.mu.Lock()
	delete(q.pending, p.task.ID)
	q.mu.Unlock()

	p.future.err = err
	close(p.future.done)

	if err == nil {
		if p.task.OnSuccess != nil {
			p.task.OnSuccess()
		}
		return
	}
	if p.task.OnFailure != nil && !errors.Is(err, context.Canceled) {
		p.task.OnFailure(err)
	}
}

// cleanupLoop cancels tasks whose first attempt is older than one hour.
func (q *Queue) cleanupLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-q.baseCtx.Done():
			return
		case now := <-ticker.C:
			q.mu.Lock()
			var stale []*pending
			for _, p := range q.pending {
				if now.Sub(p.addedAt) > time.Hour {
					stale = append(stale, p)
				}
			}
			q.mu.Unlock()
			for _, p := range stale {
				p.cancel()
			}
		}
	}
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop cancels every pending task and waits for workers to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
	})
}
