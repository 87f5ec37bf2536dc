package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// StaleLister finds submissions whose queued parse never finished, across tenants.
type StaleLister interface {
	ListStale(ctx context.Context, queuedBefore time.Time, limit int) ([]persistence.SubmissionRef, error)
}

// Enqueuer is the part of the submissions service the sweeper re-enqueues through.
type Enqueuer interface {
	EnqueueParse(ctx context.Context, id uuid.UUID, reason string) (service.ParseJob, error)
}

// Sweeper re-enqueues parses that have been queued longer than Threshold.
type Sweeper struct {
	lister    StaleLister
	enqueuer  Enqueuer
	envKey    string
	threshold time.Duration
	batch     int
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(lister StaleLister, enqueuer Enqueuer, envKey string, threshold time.Duration, batch int, logger *zap.Logger) *Sweeper {
	if lister == nil || enqueuer == nil {
		panic("sweeper requires lister and enqueuer")
	}
	if logger == nil {
		panic("logger is required")
	}
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		lister:    lister,
		enqueuer:  enqueuer,
		envKey:    envKey,
		threshold: threshold,
		batch:     batch,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep re-enqueues one batch and returns how many parses were newly queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	refs, err := s.lister.ListStale(ctx, s.now().Add(-s.threshold), s.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale parses: %w", err)
	}

	requeued := 0
	var errs error
	for _, ref := range refs {
		scoped := tenant.WithSpace(ctx, tenant.NewSpace(s.envKey, ref.TenantID))
		job, err := s.enqueuer.EnqueueParse(scoped, ref.ID, service.ReasonSweep)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("requeue submission %s: %w", ref.ID, err))
			continue
		}
		if !job.Deduplicated {
			requeued++
		}
	}
	if len(refs) > 0 {
		s.logger.Info("stale parses swept", zap.Int("found", len(refs)), zap.Int("requeued", requeued))
	}
	return requeued, errs
}
