package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sendcore/engine/pkg/logger"
	"github.com/sendcore/engine/pkg/tracing"
)

// SchedulerConfig controls how often the Scheduler ticks each of its
// two loops. DispatchInterval defaults to one minute (the cadence
// spec §4.6 assigns Sequence/Recurring/Scheduled dispatch); DrainInterval
// defaults to 24 hours, a plain interval rather than a wall-clock cron rule.
type SchedulerConfig struct {
	DispatchInterval time.Duration
	DrainInterval    time.Duration
}

// DefaultSchedulerConfig returns the spec's documented cadences.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DispatchInterval: time.Minute,
		DrainInterval:    24 * time.Hour,
	}
}

// Scheduler drives the Dispatcher and Queue Processor on independent
// ticks, grounded in the teacher's TaskScheduler: one goroutine per job
// and a stop channel for graceful shutdown. The dispatch loop runs once
// immediately on Start; the drain loop first runs after one full
// DrainInterval.
type Scheduler struct {
	dispatcher *Dispatcher
	queue      *QueueProcessor
	config     SchedulerConfig
	log        logger.Logger
	clock      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler wires a Scheduler.
func NewScheduler(dispatcher *Dispatcher, queue *QueueProcessor, config SchedulerConfig, log logger.Logger) *Scheduler {
	if config.DispatchInterval <= 0 {
		config.DispatchInterval = time.Minute
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = 24 * time.Hour
	}
	return &Scheduler{
		dispatcher: dispatcher,
		queue:      queue,
		config:     config,
		log:        log.WithField("component", "scheduler"),
		clock:      time.Now,
	}
}

// Start launches the dispatch and drain loops in their own goroutines.
// A no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runDispatchLoop(ctx)
	go s.runDrainLoop(ctx)
}

// Stop signals both loops to exit and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) runDispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.DispatchInterval)
	defer ticker.Stop()

	s.tickDispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tickDispatch(ctx)
		}
	}
}

func (s *Scheduler) runDrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tickDrain(ctx)
		}
	}
}

func (s *Scheduler) tickDispatch(ctx context.Context) {
	spanCtx, span := tracing.StartServiceSpan(ctx, "Scheduler", "dispatch")
	defer tracing.EndSpan(span, nil)

	if _, err := s.dispatcher.PromoteScheduled(spanCtx); err != nil {
		s.log.WithField("error", err.Error()).Error("failed to promote scheduled campaigns")
	}
	if _, err := s.dispatcher.RunRecurring(spanCtx); err != nil {
		s.log.WithField("error", err.Error()).Error("failed to run recurring campaigns")
	}
	if _, err := s.dispatcher.AdvanceSequences(spanCtx); err != nil {
		s.log.WithField("error", err.Error()).Error("failed to advance sequence enrollments")
	}
}

func (s *Scheduler) tickDrain(ctx context.Context) {
	spanCtx, span := tracing.StartServiceSpan(ctx, "Scheduler", "drain")
	defer tracing.EndSpan(span, nil)

	result, err := s.queue.Drain(spanCtx, s.clock())
	if err != nil {
		s.log.WithField("error", err.Error()).Error("queue drain failed")
		return
	}
	s.log.WithFields(map[string]interface{}{"processed": result.Processed, "failed": result.Failed}).Info("queue drain completed")
}
