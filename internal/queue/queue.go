// Package queue provides a priority-ordered concurrency gate placed in front
// of asynchronous operations, typically provider streams.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrikshahq/vriksha/internal/observability"
)

var (
	// ErrCancelled is returned for items removed by Cancel or CancelAll.
	ErrCancelled = errors.New("queue: item cancelled")

	// ErrQueueDestroyed is returned by Enqueue after CancelAll shut the
	// queue down permanently.
	ErrQueueDestroyed = errors.New("queue: destroyed")
)

// Func is the operation run by the queue. The context carries the item's
// timeout and cancellation; the function must observe it.
type Func func(ctx context.Context) (any, error)

// Result is the terminal outcome of one queued item.
type Result struct {
	Value any
	Err   error
}

// Priority orders waiting items. Lower values run first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

type itemStatus int

const (
	statusPending itemStatus = iota
	statusActive
	statusDone
	statusCancelled
)

// Handle identifies a queued item and allows cancelling it.
type Handle struct {
	// ID is the unique item identifier.
	ID string

	// Done delivers exactly one Result when the item finishes, fails, or
	// is cancelled.
	Done <-chan Result

	// Cancel removes a pending item or aborts an active one.
	Cancel func()
}

type item struct {
	id       string
	fn       Func
	priority Priority
	timeout  time.Duration
	status   itemStatus
	done     chan Result
	cancel   context.CancelFunc
}

// Config configures a Queue.
type Config struct {
	// Concurrency is the number of items allowed to run at once.
	Concurrency int

	// DefaultTimeout bounds items that do not specify their own timeout.
	// Zero means no timeout.
	DefaultTimeout time.Duration

	// Metrics receives depth gauges when non-nil.
	Metrics *observability.Metrics
}

// Queue runs enqueued operations with bounded concurrency, dispatching
// strictly by priority and stably within a priority level. A completed,
// failed, or cancelled item resolves its Done channel exactly once.
type Queue struct {
	mu        sync.Mutex
	cfg       Config
	pending   []*item
	active    map[string]*item
	destroyed bool
	idle      []chan struct{}
}

// New creates a queue. Concurrency below 1 is raised to 1.
func New(cfg Config) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Queue{
		cfg:    cfg,
		active: make(map[string]*item),
	}
}

// Enqueue schedules fn with the given priority. A non-positive timeout falls
// back to the queue default.
func (q *Queue) Enqueue(fn Func, priority Priority, timeout time.Duration) (Handle, error) {
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}

	it := &item{
		id:       uuid.NewString(),
		fn:       fn,
		priority: priority,
		timeout:  timeout,
		done:     make(chan Result, 1),
	}

	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return Handle{}, ErrQueueDestroyed
	}
	q.insertLocked(it)
	q.dispatchLocked()
	q.gaugeLocked()
	q.mu.Unlock()

	return Handle{
		ID:     it.id,
		Done:   it.done,
		Cancel: func() { q.cancelItem(it) },
	}, nil
}

// insertLocked places the item after all items of equal or higher priority.
func (q *Queue) insertLocked(it *item) {
	idx := len(q.pending)
	for i, other := range q.pending {
		if other.priority > it.priority {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = it
}

// dispatchLocked starts pending items while concurrency slots are free.
func (q *Queue) dispatchLocked() {
	for len(q.active) < q.cfg.Concurrency && len(q.pending) > 0 {
		it := q.pending[0]
		q.pending = q.pending[1:]
		it.status = statusActive
		q.active[it.id] = it

		ctx := context.Background()
		var cancel context.CancelFunc
		if it.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, it.timeout)
		} else {
			ctx, cancel = context.WithCancel(ctx)
		}
		it.cancel = cancel

		go q.run(ctx, it)
	}
}

func (q *Queue) run(ctx context.Context, it *item) {
	defer it.cancel()
	value, err := it.fn(ctx)
	q.finish(it, Result{Value: value, Err: err})
}

// finish resolves an item once. Late resolutions of force-cancelled items
// are dropped here.
func (q *Queue) finish(it *item, res Result) {
	q.mu.Lock()
	if it.status != statusActive {
		q.mu.Unlock()
		return
	}
	it.status = statusDone
	delete(q.active, it.id)
	q.dispatchLocked()
	q.gaugeLocked()
	q.notifyIfIdleLocked()
	q.mu.Unlock()

	it.done <- res
}

func (q *Queue) cancelItem(it *item) {
	q.mu.Lock()
	switch it.status {
	case statusPending:
		for i, other := range q.pending {
			if other == it {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
		it.status = statusCancelled
		q.gaugeLocked()
		q.notifyIfIdleLocked()
		q.mu.Unlock()
		it.done <- Result{Err: ErrCancelled}
		return

	case statusActive:
		// The running fn observes its context; resolution arrives via
		// finish when it returns.
		cancel := it.cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return

	default:
		q.mu.Unlock()
	}
}

// CancelAll rejects every pending item and force-rejects every active item.
// Active functions keep running until they observe their cancelled contexts,
// but their resolutions are ignored. The queue refuses new work afterwards.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	q.destroyed = true

	pending := q.pending
	q.pending = nil
	var actives []*item
	for _, it := range q.active {
		actives = append(actives, it)
	}
	q.active = make(map[string]*item)

	for _, it := range pending {
		it.status = statusCancelled
	}
	for _, it := range actives {
		it.status = statusCancelled
	}
	q.gaugeLocked()
	q.notifyIfIdleLocked()
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- Result{Err: ErrCancelled}
	}
	for _, it := range actives {
		if it.cancel != nil {
			it.cancel()
		}
		it.done <- Result{Err: ErrCancelled}
	}
}

// Drain blocks until no items are pending or active, or ctx fires.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if len(q.pending) == 0 && len(q.active) == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idle = append(q.idle, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) gaugeLocked() {
	if q.cfg.Metrics == nil {
		return
	}
	q.cfg.Metrics.QueueDepth.WithLabelValues("pending").Set(float64(len(q.pending)))
	q.cfg.Metrics.QueueDepth.WithLabelValues("active").Set(float64(len(q.active)))
}

func (q *Queue) notifyIfIdleLocked() {
	if len(q.pending) != 0 || len(q.active) != 0 {
		return
	}
	for _, ch := range q.idle {
		close(ch)
	}
	q.idle = nil
}

// Stats reports current queue occupancy.
type Stats struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

// GetStats returns current occupancy for introspection.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), Active: len(q.active)}
}
