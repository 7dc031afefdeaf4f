package training

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"faqrag/internal/metrics"
)

// Trainer is the operation every trigger path converges on.
type Trainer interface {
	Train(ctx context.Context, epochs int) (Outcome, error)
}

// Scheduler coalesces training triggers into at most one run in flight.
// A trigger arriving while a run is active is dropped, not queued.
type Scheduler struct {
	trainer       Trainer
	defaultEpochs int
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	running atomic.Bool

	// OnDone, when set, is called after every run.
	OnDone func(Outcome, error)
}

func NewScheduler(trainer Trainer, defaultEpochs int, logger *zap.Logger) *Scheduler {
	if defaultEpochs <= 0 {
		defaultEpochs = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		trainer:       trainer,
		defaultEpochs: defaultEpochs,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		cron:          cron.New(),
	}
}

// Start registers the periodic trigger. An empty schedule disables it.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Trigger("schedule", 0) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("training schedule started", zap.String("schedule", schedule))
	return nil
}

// Trigger starts a background run unless one is already running. epochs
// <= 0 uses the default. It reports whether a run was started.
func (s *Scheduler) Trigger(source string, epochs int) bool {
	if epochs <= 0 {
		epochs = s.defaultEpochs
	}
	s.mu.Lock()
	if s.stopped || !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		metrics.TrainingTriggers.WithLabelValues(source, "false").Inc()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	metrics.TrainingTriggers.WithLabelValues(source, "true").Inc()

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.logger.Info("training started", zap.String("trigger", source), zap.Int("epochs", epochs))
		out, err := s.trainer.Train(s.ctx, epochs)
		switch {
		case errors.Is(err, context.Canceled):
			s.logger.Info("training cancelled")
		case err != nil:
			s.logger.Error("training failed", zap.Error(err))
		}
		if s.OnDone != nil {
			s.OnDone(out, err)
		}
	}()
	return true
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// Wait blocks until the current run, if any, has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Stop cancels the schedule and any run in flight and waits for it. A
// cancelled run publishes nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}
