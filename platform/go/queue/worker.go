package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/tender-engine/platform/go/logging"
)

// Handler processes one attempt of a job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// DeadLetterHandler is implemented by handlers that record terminal failures,
// e.g. persisting the error on the entity the job was working on.
type DeadLetterHandler interface {
	OnDeadLetter(ctx context.Context, job Job, cause error)
}

type PoolConfig struct {
	Queue       string
	Concurrency int
	PollWait    time.Duration
	Policy      RetryPolicy
}

// Pool runs Concurrency workers pulling from one queue.
type Pool struct {
	queue   Queue
	handler Handler
	cfg     PoolConfig
	logger  *zap.Logger
}

func NewPool(q Queue, handler Handler, cfg PoolConfig, logger *zap.Logger) *Pool {
	if q == nil {
		panic("worker pool requires queue")
	}
	if handler == nil {
		panic("worker pool requires handler")
	}
	if logger == nil {
		panic("worker pool requires logger")
	}
	if cfg.Queue == "" {
		panic("worker pool requires queue name")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 2 * time.Second
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	return &Pool{queue: q, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled or a worker hits a queue error.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", zap.String("queue", p.cfg.Queue), zap.Int("concurrency", p.cfg.Concurrency))
	defer p.logger.Info("worker pool stopped", zap.String("queue", p.cfg.Queue))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			return p.loop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) loop(ctx context.Context) error {
	for {
		job, ok, err := p.queue.Dequeue(ctx, p.cfg.Queue, p.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("dequeue failed", zap.String("queue", p.cfg.Queue), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollWait):
			}
			continue
		}
		if !ok {
			continue
		}
		p.Process(ctx, job)
	}
}

// Process runs one attempt of job and applies the retry policy to the outcome.
func (p *Pool) Process(ctx context.Context, job Job) {
	job.Attempt++
	logger := logging.ForJob(p.logger, job.Queue, job.ID, job.Attempt)

	err := p.attempt(logging.WithLogger(ctx, logger), job)
	decision := p.cfg.Policy.Decide(job.Attempt, err)

	// Settling uses a context detached from shutdown so an in-flight result is not lost.
	settleCtx := context.WithoutCancel(ctx)

	switch decision.Action {
	case ActionDone:
		logger.Info("job completed")
		if ackErr := p.queue.Ack(settleCtx, job); ackErr != nil {
			logger.Error("ack failed", zap.Error(ackErr))
		}
	case ActionRetry:
		job.LastError = err.Error()
		logger.Warn("job failed, retrying",
			zap.Error(err), zap.Duration("delay", decision.Delay), zap.Bool("timeout", isTimeout(err)))
		if retryErr := p.queue.Retry(settleCtx, job, decision.Delay); retryErr != nil {
			logger.Error("retry scheduling failed", zap.Error(retryErr))
		}
	case ActionDeadLetter:
		job.LastError = err.Error()
		logger.Error("job dead-lettered", zap.Error(err), zap.Bool("permanent", IsPermanent(err)))
		if dl, ok := p.handler.(DeadLetterHandler); ok {
			dl.OnDeadLetter(logging.WithLogger(settleCtx, logger), job, err)
		}
		if dlErr := p.queue.DeadLetter(settleCtx, job); dlErr != nil {
			logger.Error("dead-letter failed", zap.Error(dlErr))
		}
	}
}

func (p *Pool) attempt(ctx context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Policy.AttemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.FromContextOr(ctx, p.logger).Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = Permanent(fmt.Errorf("panic: %v", r))
		}
	}()

	return p.handler.Handle(ctx, job)
}
