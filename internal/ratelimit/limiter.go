// Package ratelimit provides per-provider rate limiting with sliding-window
// accounting and a priority wait queue.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vrikshahq/vriksha/internal/observability"
)

// window is the sliding accounting period.
const window = time.Minute

// defaultDrainInterval is how often queued waiters are re-checked against
// freed capacity.
const defaultDrainInterval = 100 * time.Millisecond

var (
	// ErrReset is returned to waiters rejected by Reset.
	ErrReset = errors.New("ratelimit: limiter reset")

	// ErrDestroyed is returned to waiters rejected by Destroy and to any
	// Acquire after it.
	ErrDestroyed = errors.New("ratelimit: limiter destroyed")
)

// Priority orders queued waiters. Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// String returns the priority label used in metrics.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Config configures one provider's limiter.
type Config struct {
	// RequestsPerMinute caps request events in the sliding window.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// TokensPerMinute caps declared token weight in the sliding window.
	TokensPerMinute int `yaml:"tokens_per_minute"`

	// DrainInterval is how often queued waiters are re-checked.
	// Defaults to 100ms.
	DrainInterval time.Duration `yaml:"drain_interval"`

	// Provider labels this limiter's wait metrics. May be empty.
	Provider string `yaml:"-"`

	// Metrics receives wait durations when non-nil.
	Metrics *observability.Metrics `yaml:"-"`
}

// DefaultConfig returns a conservative default limit.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		TokensPerMinute:   100000,
	}
}

type tokenEvent struct {
	at time.Time
	n  int
}

type waiter struct {
	tokens   int
	priority Priority
	ready    chan error
}

// Limiter tracks two rolling 60-second windows per provider: request events
// (weight 1) and token events (declared weight). When capacity is exhausted,
// Acquire parks the caller in a priority queue drained on a fixed interval.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	requests  []time.Time
	tokens    []tokenEvent
	waiters   []*waiter
	draining  bool
	destroyed bool

	// now is injectable for window tests.
	now func() time.Time
}

// New creates a limiter for one provider.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = DefaultConfig().TokensPerMinute
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = defaultDrainInterval
	}
	return &Limiter{
		cfg: cfg,
		now: time.Now,
	}
}

// HasCapacity reports whether a request weighing tokens would fit right now.
func (l *Limiter) HasCapacity(tokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return l.hasCapacityLocked(tokens)
}

func (l *Limiter) hasCapacityLocked(tokens int) bool {
	if len(l.requests) >= l.cfg.RequestsPerMinute {
		return false
	}
	sum := 0
	for _, ev := range l.tokens {
		sum += ev.n
	}
	return sum+tokens <= l.cfg.TokensPerMinute
}

// pruneLocked drops window entries older than 60 seconds.
func (l *Limiter) pruneLocked() {
	cutoff := l.now().Add(-window)

	kept := l.requests[:0]
	for _, at := range l.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	l.requests = kept

	keptTok := l.tokens[:0]
	for _, ev := range l.tokens {
		if ev.at.After(cutoff) {
			keptTok = append(keptTok, ev)
		}
	}
	l.tokens = keptTok
}

func (l *Limiter) recordLocked(tokens int) {
	now := l.now()
	l.requests = append(l.requests, now)
	if tokens > 0 {
		l.tokens = append(l.tokens, tokenEvent{at: now, n: tokens})
	}
}

// Acquire blocks until capacity for a request weighing tokens is available.
// Queued waiters drain strictly by priority, stable within a priority level.
// Context cancellation removes the waiter and returns the context error.
func (l *Limiter) Acquire(ctx context.Context, tokens int, priority Priority) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return ErrDestroyed
	}
	l.pruneLocked()

	// Fast path: nobody queued and room in both windows.
	if len(l.waiters) == 0 && l.hasCapacityLocked(tokens) {
		l.recordLocked(tokens)
		l.mu.Unlock()
		l.observeWait(priority, 0)
		return nil
	}

	w := &waiter{tokens: tokens, priority: priority, ready: make(chan error, 1)}
	l.enqueueLocked(w)
	if !l.draining {
		l.draining = true
		go l.drainLoop()
	}
	l.mu.Unlock()

	queuedAt := time.Now()
	select {
	case err := <-w.ready:
		if err == nil {
			l.observeWait(priority, time.Since(queuedAt).Seconds())
		}
		return err
	case <-ctx.Done():
		l.removeWaiter(w)
		// A drain may have signalled between Done and removal; honor it.
		select {
		case err := <-w.ready:
			return err
		default:
		}
		return ctx.Err()
	}
}

func (l *Limiter) observeWait(priority Priority, seconds float64) {
	if l.cfg.Metrics == nil {
		return
	}
	l.cfg.Metrics.RateLimitWaitDuration.
		WithLabelValues(l.cfg.Provider, priority.String()).Observe(seconds)
}

// enqueueLocked inserts the waiter after all waiters of equal or higher
// priority, keeping arrival order within a level.
func (l *Limiter) enqueueLocked(w *waiter) {
	idx := len(l.waiters)
	for i, other := range l.waiters {
		if other.priority > w.priority {
			idx = i
			break
		}
	}
	l.waiters = append(l.waiters, nil)
	copy(l.waiters[idx+1:], l.waiters[idx:])
	l.waiters[idx] = w
}

func (l *Limiter) removeWaiter(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, other := range l.waiters {
		if other == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// drainLoop runs while waiters are queued, admitting the head whenever the
// windows have room for it.
func (l *Limiter) drainLoop() {
	ticker := time.NewTicker(l.cfg.DrainInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		if l.destroyed {
			l.mu.Unlock()
			return
		}
		l.pruneLocked()
		for len(l.waiters) > 0 && l.hasCapacityLocked(l.waiters[0].tokens) {
			w := l.waiters[0]
			l.waiters = l.waiters[1:]
			l.recordLocked(w.tokens)
			w.ready <- nil
		}
		if len(l.waiters) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
	}
}

// Reset drops both windows and rejects every queued waiter.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = nil
	l.tokens = nil
	l.rejectAllLocked(ErrReset)
}

// Destroy rejects all queued waiters and disables further use.
func (l *Limiter) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyed = true
	l.requests = nil
	l.tokens = nil
	l.rejectAllLocked(ErrDestroyed)
}

func (l *Limiter) rejectAllLocked(err error) {
	for _, w := range l.waiters {
		w.ready <- err
	}
	l.waiters = nil
}

// Status reports the limiter's current window occupancy.
type Status struct {
	RequestCount int `json:"request_count"`
	TokenSum     int `json:"token_sum"`
	QueuedCount  int `json:"queued_count"`
}

// GetStatus returns current occupancy for introspection.
func (l *Limiter) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	sum := 0
	for _, ev := range l.tokens {
		sum += ev.n
	}
	return Status{
		RequestCount: len(l.requests),
		TokenSum:     sum,
		QueuedCount:  len(l.waiters),
	}
}

// Manager holds one limiter per provider id.
type Manager struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	defaults Config
}

// NewManager creates a manager that builds limiters with the given defaults.
func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Get returns the limiter for a provider, creating it on first use.
func (m *Manager) Get(provider string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[provider]; ok {
		return l
	}
	cfg := m.defaults
	cfg.Provider = provider
	l := New(cfg)
	m.limiters[provider] = l
	return l
}

// Configure installs a limiter with provider-specific limits, replacing and
// destroying any existing one.
func (m *Manager) Configure(provider string, cfg Config) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.limiters[provider]; ok {
		old.Destroy()
	}
	if cfg.Provider == "" {
		cfg.Provider = provider
	}
	l := New(cfg)
	m.limiters[provider] = l
	return l
}

// DestroyAll destroys every limiter. Used on shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.limiters {
		l.Destroy()
	}
	m.limiters = make(map[string]*Limiter)
}
