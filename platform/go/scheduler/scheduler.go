// Package scheduler runs periodic worker tasks on robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is one scheduled unit of work. Errors are logged, never fatal.
type Task func(ctx context.Context) error

// Scheduler wraps robfig/cron. Runs of the same task never overlap.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
}

// New returns a scheduler; timeout, when positive, bounds every task run.
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		panic("scheduler requires logger")
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// Add registers task under spec ("@every 30s", "*/5 * * * *"). An empty spec disables it.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if spec == "" {
		s.logger.Info("scheduled task disabled", zap.String("task", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() { s.run(name, task) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("scheduled task registered", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for running tasks.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Warn("scheduled task failed", zap.String("task", name), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled task finished", zap.String("task", name), zap.Duration("took", time.Since(started)))
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
