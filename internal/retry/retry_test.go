package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vrikshahq/vriksha/internal/providers"
	"github.com/vrikshahq/vriksha/pkg/models"
)

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2,
	}
}

// scriptedStream returns a StreamFunc that plays back one event sequence per
// attempt.
func scriptedStream(attempts ...[]models.StreamEvent) StreamFunc {
	i := 0
	return func(ctx context.Context) (<-chan models.StreamEvent, error) {
		if i >= len(attempts) {
			panic("more attempts than scripted")
		}
		events := attempts[i]
		i++
		ch := make(chan models.StreamEvent, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
}

func collect(t *testing.T, ch <-chan models.StreamEvent) []models.StreamEvent {
	t.Helper()
	var got []models.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %d so far", len(got))
		}
	}
}

func retryableErr(status int) error {
	return providers.NewProviderError("test", "m", errors.New("boom")).WithStatus(status)
}

func TestStreamCompletesWithoutRetry(t *testing.T) {
	s := NewStreamer(fastConfig())
	s.random = func() float64 { return 0 }

	fn := scriptedStream([]models.StreamEvent{
		models.StartEvent("msg-1"),
		models.TextEvent("hello"),
		models.DoneEvent(models.StopEndTurn, models.Usage{InputTokens: 3, OutputTokens: 5}),
	})

	got := collect(t, s.Stream(context.Background(), fn))
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Type == models.EventRetry {
			t.Fatalf("unexpected retry event on clean stream")
		}
	}
	if got[2].Type != models.EventDone {
		t.Errorf("last event = %s, want done", got[2].Type)
	}
}

func TestStreamRetriesOnRetryableError(t *testing.T) {
	s := NewStreamer(fastConfig())
	s.random = func() float64 { return 0 }

	fn := scriptedStream(
		[]models.StreamEvent{
			models.StartEvent("msg-1"),
			models.ErrorEvent(retryableErr(429)),
		},
		[]models.StreamEvent{
			models.StartEvent("msg-2"),
			models.TextEvent("ok"),
			models.DoneEvent(models.StopEndTurn, models.Usage{}),
		},
	)

	got := collect(t, s.Stream(context.Background(), fn))

	var retries int
	for _, ev := range got {
		if ev.Type == models.EventRetry {
			retries++
			if ev.Retry.Attempt != 1 {
				t.Errorf("retry attempt = %d, want 1", ev.Retry.Attempt)
			}
			if ev.Retry.StatusCode != 429 {
				t.Errorf("retry status = %d, want 429", ev.Retry.StatusCode)
			}
		}
	}
	if retries != 1 {
		t.Fatalf("retry events = %d, want 1", retries)
	}
	last := got[len(got)-1]
	if last.Type != models.EventDone {
		t.Errorf("last event = %s, want done", last.Type)
	}
}

func TestStreamNonRetryableErrorPropagates(t *testing.T) {
	s := NewStreamer(fastConfig())
	s.random = func() float64 { return 0 }

	authErr := providers.NewProviderError("test", "m", errors.New("bad key")).WithStatus(401)
	fn := scriptedStream([]models.StreamEvent{models.ErrorEvent(authErr)})

	got := collect(t, s.Stream(context.Background(), fn))
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Type != models.EventError {
		t.Fatalf("event = %s, want error", got[0].Type)
	}
	pe, ok := providers.GetProviderError(got[0].Err)
	if !ok || pe.Reason != providers.FailureAuth {
		t.Errorf("error reason = %v, want auth", got[0].Err)
	}
}

func TestStreamExhaustsRetries(t *testing.T) {
	cfg := fastConfig()
	s := NewStreamer(cfg)
	s.random = func() float64 { return 0 }

	failing := make([][]models.StreamEvent, cfg.MaxRetries+1)
	for i := range failing {
		failing[i] = []models.StreamEvent{models.ErrorEvent(retryableErr(503))}
	}
	fn := scriptedStream(failing...)

	got := collect(t, s.Stream(context.Background(), fn))

	var retries int
	for _, ev := range got {
		if ev.Type == models.EventRetry {
			retries++
		}
	}
	if retries != cfg.MaxRetries {
		t.Errorf("retry events = %d, want %d", retries, cfg.MaxRetries)
	}
	last := got[len(got)-1]
	if last.Type != models.EventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
	if !providers.IsRetryable(last.Err) {
		t.Errorf("final error should carry the underlying retryable failure")
	}
}

func TestStreamStartErrorIsRetried(t *testing.T) {
	s := NewStreamer(fastConfig())
	s.random = func() float64 { return 0 }

	calls := 0
	fn := func(ctx context.Context) (<-chan models.StreamEvent, error) {
		calls++
		if calls == 1 {
			return nil, retryableErr(500)
		}
		ch := make(chan models.StreamEvent, 2)
		ch <- models.StartEvent("msg")
		ch <- models.DoneEvent(models.StopEndTurn, models.Usage{})
		close(ch)
		return ch, nil
	}

	got := collect(t, s.Stream(context.Background(), fn))
	if calls != 2 {
		t.Fatalf("start calls = %d, want 2", calls)
	}
	if got[len(got)-1].Type != models.EventDone {
		t.Errorf("last event = %s, want done", got[len(got)-1].Type)
	}
}

func TestStreamCancellationNotRetried(t *testing.T) {
	s := NewStreamer(fastConfig())
	s.random = func() float64 { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	fn := func(ctx context.Context) (<-chan models.StreamEvent, error) {
		calls++
		return nil, ctx.Err()
	}

	got := collect(t, s.Stream(ctx, fn))
	if calls != 0 {
		t.Errorf("start calls = %d, want 0 with pre-cancelled context", calls)
	}
	if len(got) != 0 {
		t.Fatalf("expected stream to close without events, got %v", got)
	}
}

func TestStreamCancelWhileAbandonedClosesChannel(t *testing.T) {
	s := NewStreamer(fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fn := func(ctx context.Context) (<-chan models.StreamEvent, error) {
		ch := make(chan models.StreamEvent)
		go func() {
			defer close(ch)
			for {
				select {
				case ch <- models.TextEvent("tick"):
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}

	events := s.Stream(ctx, fn)
	for i := 0; i < 2; i++ {
		if ev := <-events; ev.Type != models.EventText {
			t.Fatalf("event %d = %s, want text", i, ev.Type)
		}
	}

	// Cancel with nobody receiving; the forwarding goroutine must exit
	// instead of parking on the unbuffered send.
	cancel()
	time.Sleep(100 * time.Millisecond)

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("event after cancel = %+v, want closed channel", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel still open after cancel; forwarder is parked")
	}
}

func TestDelayForExponentialGrowthAndClamp(t *testing.T) {
	s := NewStreamer(Config{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	})
	s.random = func() float64 { return 0 }

	err := retryableErr(500)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 30 * time.Second}, // 32s clamped
	}
	for _, tc := range cases {
		if got := s.delayFor(tc.attempt, err); got != tc.want {
			t.Errorf("delayFor(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayForJitterBounds(t *testing.T) {
	s := NewStreamer(fastConfig())
	s.random = func() float64 { return 0.999 }

	got := s.delayFor(0, retryableErr(500))
	if got < s.config.BaseDelay || got >= s.config.BaseDelay+jitterMax {
		t.Errorf("delay %v outside [base, base+500ms)", got)
	}
}

func TestDelayForHonorsRetryAfter(t *testing.T) {
	s := NewStreamer(Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	})
	s.random = func() float64 { return 0 }

	// Server suggestion above the computed delay wins.
	err := providers.NewProviderError("test", "m", errors.New("slow down")).
		WithStatus(429).
		WithRetryAfter(10 * time.Second)
	if got := s.delayFor(0, err); got != 10*time.Second {
		t.Errorf("delay = %v, want 10s from Retry-After", got)
	}

	// But it is still clamped to MaxDelay.
	err = providers.NewProviderError("test", "m", errors.New("slow down")).
		WithStatus(429).
		WithRetryAfter(5 * time.Minute)
	if got := s.delayFor(0, err); got != 30*time.Second {
		t.Errorf("delay = %v, want 30s clamp", got)
	}

	// A suggestion below the computed delay is ignored.
	err = providers.NewProviderError("test", "m", errors.New("slow down")).
		WithStatus(429).
		WithRetryAfter(time.Millisecond)
	if got := s.delayFor(2, err); got != 4*time.Second {
		t.Errorf("delay = %v, want computed 4s", got)
	}
}
