package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	activitydomain "github.com/warebill/warebill/internal/activity/domain"
	activityrepository "github.com/warebill/warebill/internal/activity/repository"
	auditdomain "github.com/warebill/warebill/internal/audit/domain"
	auditrepository "github.com/warebill/warebill/internal/audit/repository"
	auditservice "github.com/warebill/warebill/internal/audit/service"
	"github.com/warebill/warebill/internal/clock"
	"github.com/warebill/warebill/internal/config"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	invoicerepository "github.com/warebill/warebill/internal/invoice/repository"
	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	ratingservice "github.com/warebill/warebill/internal/rating/service"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
	ratecardrepository "github.com/warebill/warebill/internal/ratecard/repository"
)

type fixture struct {
	svc        invoicedomain.Service
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
	customerID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&ratecarddomain.RateCard{},
		&ratecarddomain.ContractLink{},
		&activitydomain.BillableActivity{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC))

	rating := ratingservice.NewService(ratingservice.ServiceParam{
		DB:       conn,
		Log:      log,
		CardRepo: ratecardrepository.Provide(),
	})
	audit := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		DB:           conn,
		Log:          log,
		GenID:        node,
		Clock:        clk,
		Repo:         invoicerepository.Provide(),
		ActivityRepo: activityrepository.Provide(),
		Rating:       rating,
		Billing:      config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Audit:        audit,
	})

	return &fixture{
		svc:        svc,
		db:         conn,
		node:       node,
		clk:        clk,
		customerID: node.Generate(),
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) seedCard(t *testing.T, card ratecarddomain.RateCard) ratecarddomain.RateCard {
	t.Helper()
	if card.ID == 0 {
		card.ID = f.node.Generate()
	}
	card.CustomerID = f.customerID
	card.IsActive = true
	card.CreatedAt = time.Now().UTC()
	card.UpdatedAt = card.CreatedAt
	require.NoError(t, f.db.Create(&card).Error)
	return card
}

func (f *fixture) seedActivity(t *testing.T, activityType string, occurred time.Time, qty float64, mutate ...func(*activitydomain.BillableActivity)) activitydomain.BillableActivity {
	t.Helper()
	activity := activitydomain.BillableActivity{
		ID:           f.node.Generate(),
		CustomerID:   f.customerID,
		ActivityType: activityType,
		OccurredAt:   occurred,
		Quantity:     qty,
		CreatedAt:    time.Now().UTC(),
	}
	for _, m := range mutate {
		m(&activity)
	}
	require.NoError(t, f.db.Create(&activity).Error)
	return activity
}

func (f *fixture) standardCard(t *testing.T) ratecarddomain.RateCard {
	t.Helper()
	return f.seedCard(t, ratecarddomain.RateCard{
		Name:          "2025 base",
		CardType:      ratecarddomain.CardTypeStandard,
		Version:       1,
		EffectiveDate: date(2025, time.January, 1),
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceStorage:     {"pallet_monthly": 2000},
				ratecarddomain.ServiceFulfillment: {"per_order": 150},
			},
			VAS: map[string]int64{"kitting": 200},
		},
	})
}

func (f *fixture) generate(t *testing.T) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := f.svc.Generate(context.Background(), invoicedomain.GenerateRequest{
		CustomerID:  f.customerID.String(),
		PeriodStart: date(2025, time.April, 1),
		PeriodEnd:   date(2025, time.May, 1),
	})
	require.NoError(t, err)
	return invoice
}

func TestGenerateAggregatesByTypeAndRate(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)

	f.seedActivity(t, "storage.pallet_monthly", date(2025, time.April, 1), 40)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 5), 100)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 20), 60)
	f.seedActivity(t, "vas.kitting", date(2025, time.April, 10), 25)

	invoice := f.generate(t)

	require.Len(t, invoice.Lines, 3)

	// storage 40 x $20.00, fulfillment 160 x $1.50, kitting 25 x $2.00
	assert.Equal(t, "storage.pallet_monthly", invoice.Lines[0].ActivityType)
	assert.EqualValues(t, 80000, invoice.Lines[0].AmountCents)
	assert.Equal(t, "fulfillment.per_order", invoice.Lines[1].ActivityType)
	assert.EqualValues(t, 160, invoice.Lines[1].Quantity)
	assert.EqualValues(t, 24000, invoice.Lines[1].AmountCents)
	assert.Equal(t, "vas.kitting", invoice.Lines[2].ActivityType)
	assert.EqualValues(t, 5000, invoice.Lines[2].AmountCents)

	assert.EqualValues(t, 109000, invoice.SubtotalCents)
	assert.EqualValues(t, 109000, invoice.TotalCents)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoice.Status)
}

func TestGenerateSplitsLinesAcrossRateBoundary(t *testing.T) {
	f := newFixture(t)
	standard := f.standardCard(t)

	// Mid-month promo re-rates fulfillment orders.
	may1 := date(2025, time.May, 1)
	f.seedCard(t, ratecarddomain.RateCard{
		Name:          "April promo",
		CardType:      ratecarddomain.CardTypeAdjustment,
		Version:       1,
		ParentCardID:  &standard.ID,
		EffectiveDate: date(2025, time.April, 15),
		ExpiresDate:   &may1,
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceFulfillment: {"per_order": 120},
			},
		},
	})

	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 10), 100)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 20), 50)

	invoice := f.generate(t)

	require.Len(t, invoice.Lines, 2)
	assert.EqualValues(t, 120, invoice.Lines[0].UnitRateCents)
	assert.EqualValues(t, 6000, invoice.Lines[0].AmountCents)
	assert.EqualValues(t, 150, invoice.Lines[1].UnitRateCents)
	assert.EqualValues(t, 15000, invoice.Lines[1].AmountCents)
}

func TestGenerateFlagsUnpricedVolume(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)

	// No zone table on the card: parcels cannot be priced.
	zone := 5
	f.seedActivity(t, "shipping.parcel", date(2025, time.April, 8), 3, func(a *activitydomain.BillableActivity) {
		a.Zone = &zone
	})
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 9), 10)

	invoice := f.generate(t)

	require.Len(t, invoice.Lines, 2)
	priced, unpriced := invoice.Lines[0], invoice.Lines[1]
	assert.False(t, priced.Unpriced)
	assert.True(t, unpriced.Unpriced)
	assert.EqualValues(t, 0, unpriced.AmountCents)
	assert.EqualValues(t, 3, unpriced.Quantity)
	assert.Contains(t, unpriced.Description, "UNPRICED")
	assert.Equal(t, 1, invoice.UnpricedLineCount)

	// Unpriced volume contributes nothing to the total.
	assert.EqualValues(t, 1500, invoice.TotalCents)
}

func TestGenerateAppliesMinimumShortfall(t *testing.T) {
	f := newFixture(t)
	minimum := int64(50000)
	card := f.seedCard(t, ratecarddomain.RateCard{
		Name:          "committed volume deal",
		CardType:      ratecarddomain.CardTypeStandard,
		Version:       1,
		EffectiveDate: date(2025, time.January, 1),
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceFulfillment: {"per_order": 150},
			},
		},
		MinimumMonthlyCents: &minimum,
	})

	// 280 orders x $1.50 = $420.00, below the $500.00 floor.
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 12), 280)

	invoice := f.generate(t)

	assert.EqualValues(t, 42000, invoice.SubtotalCents)
	assert.EqualValues(t, 8000, invoice.MinimumShortfallCents)
	assert.EqualValues(t, 50000, invoice.TotalCents)

	last := invoice.Lines[len(invoice.Lines)-1]
	assert.Equal(t, invoicedomain.CategoryMinimum, last.Category)
	assert.EqualValues(t, 8000, last.AmountCents)
	require.NotNil(t, last.SourceCardID)
	assert.Equal(t, card.ID, *last.SourceCardID)
}

// brokenRatesRating prices individual activities fine but fails the
// effective-rates lookup that resolves the monthly minimum.
type brokenRatesRating struct {
	ratingdomain.Service
	err error
}

func (r brokenRatesRating) EffectiveRates(ctx context.Context, customerID snowflake.ID, date time.Time) (ratingdomain.EffectiveRates, error) {
	return ratingdomain.EffectiveRates{}, r.err
}

func TestGenerateAbortsWhenMinimumLookupFails(t *testing.T) {
	f := newFixture(t)
	minimum := int64(50000)
	f.seedCard(t, ratecarddomain.RateCard{
		Name:          "committed volume deal",
		CardType:      ratecarddomain.CardTypeStandard,
		Version:       1,
		EffectiveDate: date(2025, time.January, 1),
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceFulfillment: {"per_order": 150},
			},
		},
		MinimumMonthlyCents: &minimum,
	})
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 12), 280)

	readErr := errors.New("rate store unavailable")
	rating := brokenRatesRating{
		Service: ratingservice.NewService(ratingservice.ServiceParam{
			DB:       f.db,
			Log:      zap.NewNop(),
			CardRepo: ratecardrepository.Provide(),
		}),
		err: readErr,
	}
	svc := NewService(Params{
		DB:           f.db,
		Log:          zap.NewNop(),
		GenID:        f.node,
		Clock:        f.clk,
		Repo:         invoicerepository.Provide(),
		ActivityRepo: activityrepository.Provide(),
		Rating:       rating,
		Billing:      config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Audit: auditservice.NewService(auditservice.Params{
			DB:    f.db,
			Log:   zap.NewNop(),
			GenID: f.node,
			Repo:  auditrepository.Provide(),
		}),
	})

	_, err := svc.Generate(context.Background(), invoicedomain.GenerateRequest{
		CustomerID:  f.customerID.String(),
		PeriodStart: date(2025, time.April, 1),
		PeriodEnd:   date(2025, time.May, 1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)

	// The write rolled back: no draft missing its minimum floor.
	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGenerateIsIdempotentOnDraft(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 5), 100)

	first := f.generate(t)

	// More activity lands, then the draft regenerates: lines are
	// replaced, not appended.
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 25), 20)
	second := f.generate(t)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Lines, 1)
	assert.EqualValues(t, 120, second.Lines[0].Quantity)
	assert.EqualValues(t, 18000, second.TotalCents)

	var lineCount int64
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceLine{}).Where("invoice_id = ?", first.ID).Count(&lineCount).Error)
	assert.EqualValues(t, 1, lineCount)
}

func TestGenerateNetsOutCorrections(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)

	original := f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 5), 100)
	f.seedActivity(t, "fulfillment.per_order", original.OccurredAt, -40, func(a *activitydomain.BillableActivity) {
		a.CorrectsID = &original.ID
	})

	invoice := f.generate(t)

	require.Len(t, invoice.Lines, 1)
	assert.EqualValues(t, 60, invoice.Lines[0].Quantity)
	assert.EqualValues(t, 9000, invoice.TotalCents)
}

func TestIssueLocksInvoiceAndAssignsNumber(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 5), 10)
	draft := f.generate(t)

	issued, err := f.svc.Issue(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, issued.Status)
	require.NotNil(t, issued.Number)
	assert.Equal(t, "WB-202505-000001", *issued.Number)
	require.NotNil(t, issued.DueAt)
	assert.True(t, issued.DueAt.Equal(issued.IssuedAt.AddDate(0, 0, 14)))

	// Regeneration after issue is refused.
	_, err = f.svc.Generate(context.Background(), invoicedomain.GenerateRequest{
		CustomerID:  f.customerID.String(),
		PeriodStart: date(2025, time.April, 1),
		PeriodEnd:   date(2025, time.May, 1),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrNotDraft)

	_, err = f.svc.Issue(context.Background(), draft.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrNotDraft)
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 5), 100)
	draft := f.generate(t)

	issued, err := f.svc.Issue(context.Background(), draft.ID.String())
	require.NoError(t, err)
	require.EqualValues(t, 15000, issued.TotalCents)

	partial, err := f.svc.RecordPayment(context.Background(), invoicedomain.PaymentRequest{
		InvoiceID:   draft.ID.String(),
		AmountCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, partial.Status)

	_, err = f.svc.RecordPayment(context.Background(), invoicedomain.PaymentRequest{
		InvoiceID:   draft.ID.String(),
		AmountCents: 20000,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrOverpayment)

	paid, err := f.svc.RecordPayment(context.Background(), invoicedomain.PaymentRequest{
		InvoiceID:   draft.ID.String(),
		AmountCents: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	_, err = f.svc.Void(context.Background(), draft.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyPaid)
}

func TestVoidBlocksFurtherTransitions(t *testing.T) {
	f := newFixture(t)
	f.standardCard(t)
	f.seedActivity(t, "fulfillment.per_order", date(2025, time.April, 5), 10)
	draft := f.generate(t)

	voided, err := f.svc.Void(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusVoid, voided.Status)

	_, err = f.svc.RecordPayment(context.Background(), invoicedomain.PaymentRequest{
		InvoiceID:   draft.ID.String(),
		AmountCents: 100,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrVoided)
}

func TestRoundMoney(t *testing.T) {
	assert.EqualValues(t, 2, roundMoney(1.5))
	assert.EqualValues(t, 1, roundMoney(1.4999))
	assert.EqualValues(t, -2, roundMoney(-1.5))
	assert.EqualValues(t, 0, roundMoney(0))
	// 3.5 units at $0.33 = 115.5 cents rounds to 116.
	assert.EqualValues(t, 116, roundMoney(3.5*33))
}
