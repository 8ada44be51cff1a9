package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
)

type fakeSettler struct {
	settled int
	err     error
	calls   int
}

func (f *fakeSettler) ReconcilePending(_ context.Context, _ time.Duration, _ int) (int, error) {
	f.calls++
	return f.settled, f.err
}

func TestJobRunReportsSettledPayments(t *testing.T) {
	settler := &fakeSettler{settled: 3}
	job := New(settler, 2*time.Minute, 50, zap.NewNop())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if settler.calls != 1 {
		t.Fatalf("expected one settle call, got %d", settler.calls)
	}
}

func TestJobRunSwallowsGatewayOutage(t *testing.T) {
	settler := &fakeSettler{err: paymentsvc.ErrGatewayUnavailable}
	job := New(settler, 2*time.Minute, 50, zap.NewNop())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("gateway outage must not fail the loop: %v", err)
	}
}

func TestJobRunPropagatesOtherErrors(t *testing.T) {
	settler := &fakeSettler{err: errors.New("boom")}
	job := New(settler, 2*time.Minute, 50, zap.NewNop())

	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error from settler")
	}
}

func TestJobRunWithoutSettler(t *testing.T) {
	job := New(nil, 0, 0, nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("nil settler must be a no-op: %v", err)
	}
}
