// Package retry wraps provider streams with exponential-backoff retries.
//
// Adapters never retry internally; this package is the single place backoff
// behavior lives so it is uniform across providers.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/vrikshahq/vriksha/internal/providers"
	"github.com/vrikshahq/vriksha/pkg/models"
)

// jitterMax bounds the uniform random jitter added to each backoff delay.
const jitterMax = 500 * time.Millisecond

// Config configures stream retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay, including server-suggested waits.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor.
	Multiplier float64
}

// DefaultConfig returns the standard retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	return c
}

// StreamFunc starts one attempt of the underlying provider stream.
type StreamFunc func(ctx context.Context) (<-chan models.StreamEvent, error)

// Streamer retries provider streams on retryable failures, forwarding events
// as they arrive and emitting a retry event before each backoff sleep.
type Streamer struct {
	config Config

	// random yields the jitter fraction in [0, 1). Injectable for tests.
	random func() float64
}

// NewStreamer creates a Streamer with the given configuration.
func NewStreamer(cfg Config) *Streamer {
	return &Streamer{
		config: cfg.withDefaults(),
		random: rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
	}
}

// Stream runs start with retries. All events from each attempt are forwarded
// to the returned channel. On a retryable failure a retry event is emitted,
// the backoff delay elapses, and the stream is started again. Non-retryable
// failures and retry exhaustion end the sequence with a single error event.
// Context cancellation ends the sequence promptly by closing the channel; a
// final error event is delivered only if the consumer is still receiving.
func (s *Streamer) Stream(ctx context.Context, start StreamFunc) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent)
	go s.run(ctx, start, out)
	return out
}

func (s *Streamer) run(ctx context.Context, start StreamFunc, out chan<- models.StreamEvent) {
	defer close(out)

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := s.attempt(ctx, start, out)
		if err == nil {
			return
		}
		lastErr = err

		// Cancellation is never retried.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			send(ctx, out, models.ErrorEvent(err))
			return
		}
		if !providers.IsRetryable(err) || attempt == s.config.MaxRetries {
			send(ctx, out, models.ErrorEvent(err))
			return
		}

		delay := s.delayFor(attempt, err)
		ok := send(ctx, out, models.StreamEvent{
			Type: models.EventRetry,
			Retry: &models.RetryInfo{
				Attempt:    attempt + 1,
				MaxRetries: s.config.MaxRetries,
				Delay:      delay,
				Err:        err,
				StatusCode: providers.StatusCode(err),
			},
		})
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			send(ctx, out, models.ErrorEvent(ctx.Err()))
			return
		case <-time.After(delay):
		}
	}

	// Unreachable with MaxRetries >= 0, kept for safety.
	send(ctx, out, models.ErrorEvent(lastErr))
}

// send delivers ev unless ctx fires first. A consumer that abandons the
// channel on cancellation must not park this goroutine on an unbuffered send.
func send(ctx context.Context, out chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// attempt consumes one underlying stream, forwarding every non-terminal
// event. It returns nil when the stream completes normally and the terminal
// error otherwise.
func (s *Streamer) attempt(ctx context.Context, start StreamFunc, out chan<- models.StreamEvent) error {
	events, err := start(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Type == models.EventError {
			return ev.Err
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		if ev.Type == models.EventDone {
			return nil
		}
	}
	return nil
}

// delayFor computes the backoff for the given zero-based attempt. A
// server-suggested Retry-After wins when it exceeds the computed delay, but
// is still clamped to MaxDelay.
func (s *Streamer) delayFor(attempt int, err error) time.Duration {
	base := float64(s.config.BaseDelay) * math.Pow(s.config.Multiplier, float64(attempt))
	if base > float64(s.config.MaxDelay) {
		base = float64(s.config.MaxDelay)
	}
	delay := time.Duration(base) + time.Duration(s.random()*float64(jitterMax))

	if ra := providers.RetryAfter(err); ra > delay {
		delay = ra
		if delay > s.config.MaxDelay {
			delay = s.config.MaxDelay
		}
	}
	return delay
}
