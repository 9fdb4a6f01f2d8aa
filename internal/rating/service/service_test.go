package service

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

	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
	ratecardrepository "github.com/warebill/warebill/internal/ratecard/repository"
)

func newRatingFixture(t *testing.T) (ratingdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ratecarddomain.RateCard{}, &ratecarddomain.ContractLink{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		CardRepo: ratecardrepository.Provide(),
	})
	return svc, conn, node
}

func seedCard(t *testing.T, conn *gorm.DB, card ratecarddomain.RateCard) ratecarddomain.RateCard {
	t.Helper()
	card.IsActive = true
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
		card.UpdatedAt = card.CreatedAt
	}
	require.NoError(t, conn.Create(&card).Error)
	return card
}

func TestSourcesForDropsOrphanAdjustments(t *testing.T) {
	svc, conn, node := newRatingFixture(t)
	customerID := node.Generate()

	mar1 := date(2025, 3, 1)
	oldStandard := seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "v1",
		CardType: ratecarddomain.CardTypeStandard, Version: 1,
		EffectiveDate: date(2025, 1, 1), ExpiresDate: &mar1,
		Schedule: ratecarddomain.RateSchedule{VAS: map[string]int64{"kitting": 200}},
	})
	current := seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "v2",
		CardType: ratecarddomain.CardTypeStandard, Version: 2,
		EffectiveDate: mar1,
		Schedule:      ratecarddomain.RateSchedule{VAS: map[string]int64{"kitting": 220}},
	})
	// Overlays the current standard.
	jun1 := date(2025, 6, 1)
	attached := seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "promo",
		CardType: ratecarddomain.CardTypeAdjustment, Version: 2,
		ParentCardID:  &current.ID,
		EffectiveDate: date(2025, 4, 1), ExpiresDate: &jun1,
		Schedule: ratecarddomain.RateSchedule{VAS: map[string]int64{"kitting": 250}},
	})
	// Points at the expired v1, so it never joins the covering set.
	orphanEnd := date(2025, 5, 1)
	seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "stale promo",
		CardType: ratecarddomain.CardTypeAdjustment, Version: 1,
		ParentCardID:  &oldStandard.ID,
		EffectiveDate: date(2025, 4, 1), ExpiresDate: &orphanEnd,
		Schedule: ratecarddomain.RateSchedule{VAS: map[string]int64{"kitting": 10}},
	})

	sources, err := svc.SourcesFor(context.Background(), customerID, date(2025, 4, 15))
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, current.ID, sources[0].ID)
	assert.Equal(t, attached.ID, sources[1].ID)
}

func TestSourcesForCoverageHole(t *testing.T) {
	svc, conn, node := newRatingFixture(t)
	customerID := node.Generate()

	mar1 := date(2025, 3, 1)
	seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "v1",
		CardType: ratecarddomain.CardTypeStandard, Version: 1,
		EffectiveDate: date(2025, 1, 1), ExpiresDate: &mar1,
		Schedule: ratecarddomain.RateSchedule{VAS: map[string]int64{"kitting": 200}},
	})

	_, err := svc.SourcesFor(context.Background(), customerID, date(2025, 4, 1))
	assert.ErrorIs(t, err, ratecarddomain.ErrNoCardForDate)
}

func TestEffectiveRatesFullView(t *testing.T) {
	svc, conn, node := newRatingFixture(t)
	customerID := node.Generate()

	minimum := int64(50000)
	standard := seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "base",
		CardType: ratecarddomain.CardTypeStandard, Version: 1,
		EffectiveDate: date(2025, 1, 1),
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceStorage:     {"pallet_monthly": 2000},
				ratecarddomain.ServiceFulfillment: {"per_order": 150},
			},
			VAS: map[string]int64{"kitting": 200, "labeling": 50},
		},
		MinimumMonthlyCents: &minimum,
	})
	jun1 := date(2025, 6, 1)
	seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "spring promo",
		CardType: ratecarddomain.CardTypeAdjustment, Version: 1,
		ParentCardID:  &standard.ID,
		EffectiveDate: date(2025, 3, 1), ExpiresDate: &jun1,
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceStorage: {"pallet_monthly": 1500},
			},
			VAS: map[string]int64{"kitting": 250},
		},
	})

	view, err := svc.EffectiveRates(context.Background(), customerID, date(2025, 4, 1))
	require.NoError(t, err)

	assert.EqualValues(t, 1500, view.Services[ratecarddomain.ServiceStorage]["pallet_monthly"].RateCents)
	assert.EqualValues(t, 150, view.Services[ratecarddomain.ServiceFulfillment]["per_order"].RateCents)
	assert.EqualValues(t, 250, view.VAS["kitting"].RateCents)
	assert.EqualValues(t, 50, view.VAS["labeling"].RateCents)
	require.NotNil(t, view.Minimum)
	assert.EqualValues(t, 50000, view.Minimum.RateCents)

	// Outside the promo window the standard's own rates return.
	after, err := svc.EffectiveRates(context.Background(), customerID, date(2025, 7, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 2000, after.Services[ratecarddomain.ServiceStorage]["pallet_monthly"].RateCents)
	assert.EqualValues(t, 200, after.VAS["kitting"].RateCents)
}

func TestRateForActivityTypes(t *testing.T) {
	svc, conn, node := newRatingFixture(t)
	customerID := node.Generate()

	z4 := 4
	seedCard(t, conn, ratecarddomain.RateCard{
		ID: node.Generate(), CustomerID: customerID, Name: "base",
		CardType: ratecarddomain.CardTypeStandard, Version: 1,
		EffectiveDate: date(2025, 1, 1),
		Schedule: ratecarddomain.RateSchedule{
			Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
				ratecarddomain.ServiceReceiving: {"per_pallet": 500},
			},
			Zones: []ratecarddomain.ZoneRate{{MinZone: 1, MaxZone: &z4, RateCents: 800}},
			VAS:   map[string]int64{"kitting": 200},
		},
	})

	when := date(2025, 2, 1)

	res, err := svc.RateFor(context.Background(), customerID, when, "receiving.per_pallet", ratingdomain.Quantity{})
	require.NoError(t, err)
	assert.True(t, res.Priced)
	assert.EqualValues(t, 500, res.RateCents)

	zone := 3
	res, err = svc.RateFor(context.Background(), customerID, when, "shipping.parcel", ratingdomain.Quantity{Zone: &zone})
	require.NoError(t, err)
	assert.True(t, res.Priced)
	assert.EqualValues(t, 800, res.RateCents)

	// Zone outside every band resolves unpriced, not an error.
	far := 9
	res, err = svc.RateFor(context.Background(), customerID, when, "shipping.parcel", ratingdomain.Quantity{Zone: &far})
	require.NoError(t, err)
	assert.False(t, res.Priced)

	res, err = svc.RateFor(context.Background(), customerID, when, "vas.kitting", ratingdomain.Quantity{})
	require.NoError(t, err)
	assert.True(t, res.Priced)
	assert.EqualValues(t, 200, res.RateCents)

	res, err = svc.RateFor(context.Background(), customerID, when, "vas.gift_wrap", ratingdomain.Quantity{})
	require.NoError(t, err)
	assert.False(t, res.Priced)

	_, err = svc.RateFor(context.Background(), customerID, when, "storage.pallet_hourly", ratingdomain.Quantity{})
	assert.ErrorIs(t, err, ratingdomain.ErrInvalidActivityType)
}
