package duty

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vrikshahq/vriksha/internal/observability"
)

// Executor runs one ready duty.
type Executor func(ctx context.Context, k Kartavya) error

// SnapshotFunc produces the evaluation snapshot for a tick. A nil func
// yields a snapshot carrying only the current time.
type SnapshotFunc func() EvalContext

// SchedulerConfig tunes the evaluation loop.
type SchedulerConfig struct {
	// Interval between evaluation passes. Defaults to 30 seconds.
	Interval time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Scheduler drives periodic trigger evaluation and executes ready duties,
// feeding outcomes back into the engine's confidence accounting.
type Scheduler struct {
	engine   *Engine
	executor Executor
	snapshot SnapshotFunc
	config   SchedulerConfig
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler around an engine and an executor.
func NewScheduler(engine *Engine, executor Executor, snapshot SnapshotFunc, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = observability.NewNopLogger()
	}
	return &Scheduler{
		engine:   engine,
		executor: executor,
		snapshot: snapshot,
		config:   config,
		cron:     cron.New(),
	}
}

// Start begins the evaluation loop. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), func() {
		s.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("duty: schedule evaluation loop: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.config.Logger.Info(ctx, "duty scheduler started", "interval", s.config.Interval)
	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Tick runs one evaluation pass: match triggers against a fresh snapshot,
// execute each ready duty, and record the outcome.
func (s *Scheduler) Tick(ctx context.Context) {
	snapshot := EvalContext{Now: time.Now()}
	if s.snapshot != nil {
		snapshot = s.snapshot()
		if snapshot.Now.IsZero() {
			snapshot.Now = time.Now()
		}
	}

	for _, k := range s.engine.EvaluateTriggers(snapshot) {
		err := s.executor(ctx, k)
		if recErr := s.engine.RecordExecution(k.ID, err == nil); recErr != nil {
			s.config.Logger.Warn(ctx, "duty execution not recorded", "kartavya_id", k.ID, "error", recErr)
			continue
		}
		status := "ok"
		if err != nil {
			status = "error"
			s.config.Logger.Warn(ctx, "duty execution failed",
				"kartavya_id", k.ID,
				"action", k.Action.Type,
				"error", err,
			)
		}
		if s.config.Metrics != nil {
			s.config.Metrics.RecordDutyExecution(k.Action.Type, status)
		}
	}
}
