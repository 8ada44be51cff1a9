package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
)

type Settler interface {
	ReconcilePending(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// Job periodically settles pending gateway payments whose buyers never came
// back to press the check button.
type Job struct {
	settler Settler
	grace   time.Duration
	batch   int
	logger  *zap.Logger
}

func New(settler Settler, grace time.Duration, batch int, logger *zap.Logger) *Job {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		settler: settler,
		grace:   grace,
		batch:   batch,
		logger:  logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.settler == nil {
		return nil
	}

	settled, err := j.settler.ReconcilePending(ctx, j.grace, j.batch)
	if err != nil {
		// An unreachable gateway is a transient condition, not a reason
		// to stop the loop.
		if errors.Is(err, paymentsvc.ErrGatewayUnavailable) {
			j.logger.Warn("reconcile skipped, gateway unavailable", zap.Int("settled", settled))
			return nil
		}
		return fmt.Errorf("reconcile pending payments: %w", err)
	}

	if settled > 0 {
		j.logger.Info("reconcile completed", zap.Int("settled", settled))
	}
	return nil
}
