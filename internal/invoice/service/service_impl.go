package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	activitydomain "github.com/warebill/warebill/internal/activity/domain"
	auditdomain "github.com/warebill/warebill/internal/audit/domain"
	"github.com/warebill/warebill/internal/clock"
	"github.com/warebill/warebill/internal/config"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	"github.com/warebill/warebill/internal/invoice/format"
	"github.com/warebill/warebill/internal/observability/metrics"
	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         invoicedomain.Repository
	ActivityRepo activitydomain.Repository
	Rating       ratingdomain.Service
	Billing      *config.BillingConfigHolder
	Audit        auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         invoicedomain.Repository
	activityRepo activitydomain.Repository
	rating       ratingdomain.Service
	billing      *config.BillingConfigHolder
	audit        auditdomain.Service
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		activityRepo: p.ActivityRepo,
		rating:       p.Rating,
		billing:      p.Billing,
		audit:        p.Audit,
	}
}

func (s *Service) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.Invoice, error) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, invoicedomain.ErrInvalidCustomer
	}
	start, end := req.PeriodStart.UTC(), req.PeriodEnd.UTC()
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return nil, invoicedomain.ErrInvalidPeriod
	}

	began := time.Now()
	var invoiceID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindForPeriod(ctx, tx, customerID, start)
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		if invoice == nil {
			invoice = &invoicedomain.Invoice{
				ID:          s.genID.Generate(),
				CustomerID:  customerID,
				Status:      invoicedomain.InvoiceStatusDraft,
				PeriodStart: start,
				PeriodEnd:   end,
				Metadata:    datatypes.JSONMap{},
				CreatedAt:   now,
			}
			if err := s.repo.Insert(ctx, tx, invoice); err != nil {
				return err
			}
		} else if !invoice.Editable() {
			return invoicedomain.ErrNotDraft
		}

		activities, err := s.activityRepo.ListForPeriod(ctx, tx, customerID, start, end)
		if err != nil {
			return err
		}

		priced := make([]pricedActivity, 0, len(activities))
		for _, activity := range activities {
			resolution, err := s.resolve(ctx, activity)
			if err != nil {
				return err
			}
			priced = append(priced, pricedActivity{activity: activity, resolution: resolution})
		}

		lines := aggregateLines(priced, s.billing.Get().UnpricedDescription)

		var subtotal int64
		unpriced := 0
		for _, line := range lines {
			subtotal += line.AmountCents
			if line.Unpriced {
				unpriced++
			}
		}

		// The monthly minimum resolves against the sources covering the
		// period end: the card in force when the period closes owns the
		// commitment.
		shortfall := int64(0)
		minimum, err := s.minimumFor(ctx, customerID, end.Add(-time.Nanosecond))
		if err != nil {
			return err
		}
		if minimum != nil && subtotal < minimum.RateCents {
			shortfall = minimum.RateCents - subtotal
			line := invoicedomain.InvoiceLine{
				ActivityType:  invoicedomain.CategoryMinimum,
				Category:      invoicedomain.CategoryMinimum,
				Description:   "Monthly minimum adjustment",
				Quantity:      1,
				UnitRateCents: shortfall,
				AmountCents:   shortfall,
				SortOrder:     len(lines),
			}
			if minimum.SourceID != 0 {
				id := minimum.SourceID
				line.SourceCardID = &id
				line.SourceCardName = minimum.SourceName
			}
			lines = append(lines, line)
		}

		for i := range lines {
			lines[i].ID = s.genID.Generate()
			lines[i].InvoiceID = invoice.ID
			lines[i].CreatedAt = now
		}
		if err := s.repo.ReplaceLines(ctx, tx, invoice.ID, lines); err != nil {
			return err
		}

		invoice.SubtotalCents = subtotal
		invoice.MinimumShortfallCents = shortfall
		invoice.TotalCents = subtotal + shortfall
		invoice.UnpricedLineCount = unpriced
		invoice.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}

		m := metrics.Billing()
		m.AddInvoiceLines(len(lines))
		for i := 0; i < unpriced; i++ {
			m.IncUnpricedLine()
		}

		invoiceID = invoice.ID
		return s.recordAudit(ctx, tx, "invoice.generate", invoice.ID, map[string]any{
			"customer_id":  customerID.String(),
			"period_start": start.Format(time.RFC3339),
			"total_cents":  invoice.TotalCents,
		})
	})
	metrics.Billing().ObserveBillingRunDuration(time.Since(began))
	if err != nil {
		return nil, err
	}

	return s.repo.FindByID(ctx, s.db, invoiceID)
}

// resolve prices one activity occurrence. An explicit override pins the
// rate; otherwise resolution runs against the cards covering the
// activity's own date, so a mid-period rate change bills each occurrence
// under the card in force when it happened.
func (s *Service) resolve(ctx context.Context, activity activitydomain.BillableActivity) (ratingdomain.Resolution, error) {
	if activity.RateOverrideCents != nil {
		return ratingdomain.Resolution{RateCents: *activity.RateOverrideCents, Priced: true}, nil
	}

	resolution, err := s.rating.RateFor(ctx, activity.CustomerID, activity.OccurredAt, activity.ActivityType, ratingdomain.Quantity{
		Volume: activity.Quantity,
		Zone:   activity.Zone,
	})
	if err != nil {
		// A coverage hole is not fatal to the run: the volume surfaces
		// as an unpriced line instead.
		if errors.Is(err, ratecarddomain.ErrNoCardForDate) {
			return ratingdomain.Resolution{}, nil
		}
		return ratingdomain.Resolution{}, err
	}
	return resolution, nil
}

// minimumFor returns nil when no card covers the period end; any
// other resolution failure must abort the run rather than commit a
// draft without the minimum floor.
func (s *Service) minimumFor(ctx context.Context, customerID snowflake.ID, at time.Time) (*ratingdomain.Resolution, error) {
	view, err := s.rating.EffectiveRates(ctx, customerID, at)
	if err != nil {
		if errors.Is(err, ratecarddomain.ErrNoCardForDate) || errors.Is(err, ratecarddomain.ErrNoActiveCard) {
			return nil, nil
		}
		return nil, err
	}
	return view.Minimum, nil
}

func (s *Service) Issue(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrNotDraft
		}

		seq, err := s.repo.NextSequence(ctx, tx)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		number, err := format.Number(format.DefaultNumberTemplate, now, seq)
		if err != nil {
			return err
		}

		due := now.AddDate(0, 0, s.billing.Get().InvoiceDueDays)
		invoice.Sequence = &seq
		invoice.Number = &number
		invoice.Status = invoicedomain.InvoiceStatusIssued
		invoice.IssuedAt = &now
		invoice.DueAt = &due
		invoice.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "invoice.issue", invoice.ID, map[string]any{
			"number": number,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, invoiceID)
}

func (s *Service) MarkSent(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != invoicedomain.InvoiceStatusIssued {
			return invoicedomain.ErrNotIssued
		}
		invoice.Status = invoicedomain.InvoiceStatusSent
		invoice.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "invoice.send", invoice.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, invoiceID)
}

func (s *Service) RecordPayment(ctx context.Context, req invoicedomain.PaymentRequest) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if req.AmountCents <= 0 {
		return nil, invoicedomain.ErrInvalidAmount
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		switch invoice.Status {
		case invoicedomain.InvoiceStatusIssued, invoicedomain.InvoiceStatusSent,
			invoicedomain.InvoiceStatusPartial, invoicedomain.InvoiceStatusOverdue:
		case invoicedomain.InvoiceStatusPaid:
			return invoicedomain.ErrAlreadyPaid
		case invoicedomain.InvoiceStatusVoid:
			return invoicedomain.ErrVoided
		default:
			return invoicedomain.ErrNotIssued
		}

		balance := invoice.TotalCents - invoice.AmountPaidCents
		if req.AmountCents > balance {
			return invoicedomain.ErrOverpayment
		}

		now := s.clock.Now().UTC()
		invoice.AmountPaidCents += req.AmountCents
		if invoice.AmountPaidCents >= invoice.TotalCents {
			invoice.Status = invoicedomain.InvoiceStatusPaid
			invoice.PaidAt = &now
		} else {
			invoice.Status = invoicedomain.InvoiceStatusPartial
		}
		invoice.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "invoice.payment", invoice.ID, map[string]any{
			"amount_cents": req.AmountCents,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, invoiceID)
}

func (s *Service) Void(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == invoicedomain.InvoiceStatusPaid {
			return invoicedomain.ErrAlreadyPaid
		}
		if invoice.Status == invoicedomain.InvoiceStatusVoid {
			return invoicedomain.ErrVoided
		}

		now := s.clock.Now().UTC()
		invoice.Status = invoicedomain.InvoiceStatusVoid
		invoice.VoidedAt = &now
		invoice.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "invoice.void", invoice.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, invoiceID)
}

func (s *Service) GetByID(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, invoiceID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]invoicedomain.Invoice, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, invoicedomain.ErrInvalidCustomer
	}
	return s.repo.ListByCustomer(ctx, s.db, id)
}

func (s *Service) recordAudit(ctx context.Context, tx *gorm.DB, action string, invoiceID snowflake.ID, metadata map[string]any) error {
	targetID := invoiceID.String()
	if err := s.audit.Record(ctx, tx, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
	return nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invoicedomain.ErrInvalidID
	}
	return id, nil
}
