package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/evrent-backend/internal/orders"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

const (
	AutoRefundJobName        = "auto_refund_sweep"
	defaultAutoRefundStale   = 30 * time.Minute
	defaultAutoRefundBatch   = 100
	defaultAutoRefundWorkers = 4
)

type staleOrderProcessor interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ProcessAutoRefund(ctx context.Context, orderID uuid.UUID) (orders.AutoRefundOutcome, error)
}

// AutoRefundJobParams configure the abandoned checkout sweep.
type AutoRefundJobParams struct {
	Logger     *logger.Logger
	Orders     staleOrderProcessor
	StaleAfter time.Duration
	BatchSize  int
	Workers    int
}

// NewAutoRefundJob builds the job that cancels checkouts left PENDING past the
// staleness window.
func NewAutoRefundJob(params AutoRefundJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	stale := params.StaleAfter
	if stale <= 0 {
		stale = defaultAutoRefundStale
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultAutoRefundBatch
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultAutoRefundWorkers
	}
	return &autoRefundJob{
		logg:    params.Logger,
		orders:  params.Orders,
		stale:   stale,
		batch:   batch,
		workers: workers,
		now:     time.Now,
	}, nil
}

type autoRefundJob struct {
	logg    *logger.Logger
	orders  staleOrderProcessor
	stale   time.Duration
	batch   int
	workers int
	now     func() time.Time
}

func (j *autoRefundJob) Name() string { return AutoRefundJobName }

// Run processes one batch. Each order is handled independently so a failure
// on one never blocks the rest; failures are combined into the returned error.
func (j *autoRefundJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stale)
	stale, err := j.orders.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale orders: %w", err)
	}

	var (
		mu     sync.Mutex
		errs   error
		counts = map[orders.AutoRefundOutcome]int{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for _, order := range stale {
		orderID := order.ID
		g.Go(func() error {
			orderCtx := j.logg.WithField(gctx, "order_id", orderID.String())
			outcome, err := j.orders.ProcessAutoRefund(orderCtx, orderID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeGatewayUnavailable) {
					j.logg.Warn(orderCtx, "auto-refund deferred, gateway unavailable")
				} else {
					j.logg.Error(orderCtx, "auto-refund failed", err)
				}
				errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
				return nil
			}
			counts[outcome]++
			return nil
		})
	}
	_ = g.Wait()

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"found":    len(stale),
		"canceled": counts[orders.AutoRefundCanceled],
		"settled":  counts[orders.AutoRefundSettled],
		"skipped":  counts[orders.AutoRefundSkipped],
		"failed":   len(multierr.Errors(errs)),
	}), "auto-refund sweep complete")
	return errs
}
