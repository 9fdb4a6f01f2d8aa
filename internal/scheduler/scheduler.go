// Package scheduler drives periodic invoice generation. Each run sweeps
// active customers in batches and regenerates the draft invoice for the
// previous calendar month; issued invoices are left alone.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bwmarrin/snowflake"
	"github.com/warebill/warebill/internal/clock"
	"github.com/warebill/warebill/internal/config"
	customerdomain "github.com/warebill/warebill/internal/customer/domain"
	"github.com/warebill/warebill/internal/distlock"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	"github.com/warebill/warebill/internal/observability/metrics"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	CustomerRepo customerdomain.Repository
	InvoiceSvc   invoicedomain.Service
	Locker       *distlock.Locker `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	customerRepo customerdomain.Repository
	invoiceSvc   invoicedomain.Service
	locker       *distlock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Billing == nil || p.CustomerRepo == nil || p.InvoiceSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler"),
		clock:        p.Clock,
		billing:      p.Billing,
		customerRepo: p.CustomerRepo,
		invoiceSvc:   p.InvoiceSvc,
		locker:       p.Locker,
	}, nil
}

// billingPeriod returns the last complete calendar month as of now.
func billingPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, -1, 0), end
}

// RunOnce sweeps every active customer once. Per-customer failures are
// collected, not fatal, so one bad timeline cannot stall the fleet.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	start, end := billingPeriod(now)
	batchSize := s.billing.Get().SchedulerBatchSize

	var runErr error
	processed := 0
	for offset := 0; ; offset += batchSize {
		if ctx.Err() != nil {
			return errors.Join(runErr, ctx.Err())
		}
		ids, err := s.customerRepo.ListActiveIDs(ctx, s.db, batchSize, offset)
		if err != nil {
			metrics.Billing().IncBillingRun("error")
			return errors.Join(runErr, err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := s.generateFor(ctx, id, start, end); err != nil {
				runErr = errors.Join(runErr, err)
				continue
			}
			processed++
		}
		if len(ids) < batchSize {
			break
		}
	}

	if runErr != nil {
		metrics.Billing().IncBillingRun("error")
		s.log.Warn("billing sweep finished with errors",
			zap.Int("processed", processed),
			zap.Error(runErr),
		)
		return runErr
	}
	metrics.Billing().IncBillingRun("ok")
	s.log.Info("billing sweep finished",
		zap.Int("processed", processed),
		zap.Time("period_start", start),
	)
	return nil
}

func (s *Scheduler) generateFor(ctx context.Context, customerID snowflake.ID, start, end time.Time) error {
	key := distlock.CustomerKey(customerID.String())
	token, ok, err := s.locker.TryLock(ctx, key, s.billing.Get().CustomerLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		// Another instance holds the customer; it will cover this run.
		return nil
	}
	defer func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			s.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	_, err = s.invoiceSvc.Generate(ctx, invoicedomain.GenerateRequest{
		CustomerID:  customerID.String(),
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if errors.Is(err, invoicedomain.ErrNotDraft) {
		// Already issued for this period, nothing to regenerate.
		return nil
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.billing.Get().SchedulerInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Interval can change under a config reload.
		if next := s.billing.Get().SchedulerInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}
