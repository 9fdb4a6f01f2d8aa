package scheduler

import (
	"context"
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
	customerdomain "github.com/warebill/warebill/internal/customer/domain"
	customerrepository "github.com/warebill/warebill/internal/customer/repository"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	invoicerepository "github.com/warebill/warebill/internal/invoice/repository"
	invoiceservice "github.com/warebill/warebill/internal/invoice/service"
	ratingservice "github.com/warebill/warebill/internal/rating/service"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
	ratecardrepository "github.com/warebill/warebill/internal/ratecard/repository"
)

type fixture struct {
	sched      *Scheduler
	invoiceSvc invoicedomain.Service
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&customerdomain.Customer{},
		&ratecarddomain.RateCard{},
		&ratecarddomain.ContractLink{},
		&activitydomain.BillableActivity{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, time.May, 2, 3, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

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
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:           conn,
		Log:          log,
		GenID:        node,
		Clock:        clk,
		Repo:         invoicerepository.Provide(),
		ActivityRepo: activityrepository.Provide(),
		Rating:       rating,
		Billing:      holder,
		Audit:        audit,
	})

	sched, err := New(Params{
		DB:           conn,
		Log:          log,
		Clock:        clk,
		Billing:      holder,
		CustomerRepo: customerrepository.Provide(),
		InvoiceSvc:   invoiceSvc,
	})
	require.NoError(t, err)

	return &fixture{sched: sched, invoiceSvc: invoiceSvc, db: conn, node: node, clk: clk}
}

func (f *fixture) seedCustomer(t *testing.T, code string, status customerdomain.CustomerStatus) snowflake.ID {
	t.Helper()
	customer := customerdomain.Customer{
		ID:     f.node.Generate(),
		Name:   code,
		Code:   code,
		Email:  code + "@example.com",
		Status: status,
	}
	require.NoError(t, f.db.Create(&customer).Error)
	return customer.ID
}

func (f *fixture) seedBillableMonth(t *testing.T, customerID snowflake.ID) {
	t.Helper()
	card := ratecarddomain.RateCard{
		ID:            f.node.Generate(),
		CustomerID:    customerID,
		Name:          "base",
		CardType:      ratecarddomain.CardTypeStandard,
		Version:       1,
		EffectiveDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		IsActive:      true,
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceFulfillment: {"per_order": 150},
			},
		},
	}
	require.NoError(t, f.db.Create(&card).Error)
	require.NoError(t, f.db.Create(&activitydomain.BillableActivity{
		ID:           f.node.Generate(),
		CustomerID:   customerID,
		ActivityType: "fulfillment.per_order",
		OccurredAt:   time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC),
		Quantity:     10,
	}).Error)
}

func TestBillingPeriod(t *testing.T) {
	start, end := billingPeriod(time.Date(2025, time.May, 2, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), end)

	// January rolls back across the year boundary.
	start, end = billingPeriod(time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestRunOnceGeneratesDraftsForActiveCustomers(t *testing.T) {
	f := newFixture(t)
	active := f.seedCustomer(t, "ACME", customerdomain.CustomerStatusActive)
	f.seedBillableMonth(t, active)
	inactive := f.seedCustomer(t, "GONE", customerdomain.CustomerStatusInactive)
	f.seedBillableMonth(t, inactive)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	invoices, err := f.invoiceSvc.ListByCustomer(context.Background(), active.String())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoices[0].Status)
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), invoices[0].PeriodStart.UTC())
	assert.EqualValues(t, 1500, invoices[0].TotalCents)

	skipped, err := f.invoiceSvc.ListByCustomer(context.Background(), inactive.String())
	require.NoError(t, err)
	assert.Empty(t, skipped)
}

func TestRunOnceRegeneratesDraftWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, "ACME", customerdomain.CustomerStatusActive)
	f.seedBillableMonth(t, customerID)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.NoError(t, f.sched.RunOnce(context.Background()))

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("customer_id = ?", customerID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRunOnceSkipsIssuedInvoices(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t, "ACME", customerdomain.CustomerStatusActive)
	f.seedBillableMonth(t, customerID)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	invoices, err := f.invoiceSvc.ListByCustomer(context.Background(), customerID.String())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	issued, err := f.invoiceSvc.Issue(context.Background(), invoices[0].ID.String())
	require.NoError(t, err)

	// The next sweep must not fail on, or mutate, the issued invoice.
	require.NoError(t, f.sched.RunOnce(context.Background()))

	after, err := f.invoiceSvc.GetByID(context.Background(), issued.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, after.Status)
	assert.Equal(t, issued.UpdatedAt, after.UpdatedAt)
}

func TestRunOncePagesThroughBatches(t *testing.T) {
	f := newFixture(t)
	// Shrink the batch so the sweep needs several pages.
	cfg := config.DefaultBillingConfig()
	cfg.SchedulerBatchSize = 2
	f.sched.billing = config.NewStaticBillingConfigHolder(cfg)

	ids := make([]snowflake.ID, 0, 5)
	for _, code := range []string{"A1", "B2", "C3", "D4", "E5"} {
		id := f.seedCustomer(t, code, customerdomain.CustomerStatusActive)
		f.seedBillableMonth(t, id)
		ids = append(ids, id)
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	for _, id := range ids {
		invoices, err := f.invoiceSvc.ListByCustomer(context.Background(), id.String())
		require.NoError(t, err)
		assert.Len(t, invoices, 1)
	}
}
