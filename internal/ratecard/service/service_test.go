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

	auditdomain "github.com/warebill/warebill/internal/audit/domain"
	auditrepository "github.com/warebill/warebill/internal/audit/repository"
	auditservice "github.com/warebill/warebill/internal/audit/service"
	"github.com/warebill/warebill/internal/clock"
	contractdomain "github.com/warebill/warebill/internal/contract/domain"
	contractrepository "github.com/warebill/warebill/internal/contract/repository"
	contractservice "github.com/warebill/warebill/internal/contract/service"
	"github.com/warebill/warebill/internal/ratecard/domain"
	"github.com/warebill/warebill/internal/ratecard/repository"
)

type fixture struct {
	svc        domain.Service
	db         *gorm.DB
	clk        *clock.FakeClock
	node       *snowflake.Node
	customerID snowflake.ID
	contractID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, conn.AutoMigrate(
		&domain.RateCard{},
		&domain.ContractLink{},
		&contractdomain.Contract{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC))

	contracts := contractservice.New(contractservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  contractrepository.Provide(),
	})
	audit := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})

	customerID := node.Generate()
	contract, err := contracts.Create(context.Background(), contractdomain.CreateContractRequest{
		CustomerID: customerID.String(),
		Name:       "Master services agreement",
		StartDate:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	svc := New(Params{
		DB:        conn,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		Contracts: contracts,
		Audit:     audit,
	})

	return &fixture{
		svc:        svc,
		db:         conn,
		clk:        clk,
		node:       node,
		customerID: customerID,
		contractID: contract.ID,
	}
}

func baseSchedule() domain.RateSchedule {
	return domain.RateSchedule{
		Services: map[domain.ServiceType]domain.ServiceRates{
			domain.ServiceStorage:     {"pallet_monthly": 2000},
			domain.ServiceFulfillment: {"per_order": 150, "per_line": 25},
		},
		VAS: map[string]int64{"kitting": 200},
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) createStandard(t *testing.T, effective time.Time, expires *time.Time) *domain.CardResponse {
	t.Helper()
	card, err := f.svc.CreateStandard(context.Background(), domain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		Name:          "2025 base rates",
		EffectiveDate: effective,
		ExpiresDate:   expires,
		Schedule:      baseSchedule(),
		ContractIDs:   []string{f.contractID.String()},
	})
	require.NoError(t, err)
	return card
}

func TestCreateStandardAssignsVersionAndLinks(t *testing.T) {
	f := newFixture(t)

	card := f.createStandard(t, date(2025, time.January, 1), nil)

	assert.Equal(t, domain.CardTypeStandard, card.CardType)
	assert.Equal(t, 1, card.Version)
	assert.True(t, card.IsActive)
	assert.Nil(t, card.ExpiresDate)
	require.Len(t, card.ContractLinks, 1)
	assert.Equal(t, f.contractID.String(), card.ContractLinks[0].ContractID)
	assert.Equal(t, domain.LinkTypePrimary, card.ContractLinks[0].LinkType)

	var audits int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "ratecard.create").Count(&audits).Error)
	assert.EqualValues(t, 1, audits)
}

func TestCreateStandardRejectsEmptyContractSet(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateStandard(context.Background(), domain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		Name:          "no contracts",
		EffectiveDate: date(2025, time.January, 1),
		Schedule:      baseSchedule(),
	})
	assert.ErrorIs(t, err, domain.ErrEmptyContractSet)
}

func TestCreateStandardRejectsForeignContract(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateStandard(context.Background(), domain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		Name:          "stolen contract",
		EffectiveDate: date(2025, time.January, 1),
		Schedule:      baseSchedule(),
		ContractIDs:   []string{f.node.Generate().String()},
	})
	assert.ErrorIs(t, err, domain.ErrContractNotFound)
}

func TestCreateStandardRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	mar1 := date(2025, time.March, 1)

	existing := f.createStandard(t, date(2025, time.January, 1), &mar1)

	_, err := f.svc.CreateStandard(context.Background(), domain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		Name:          "overlapping",
		EffectiveDate: date(2025, time.February, 1),
		Schedule:      baseSchedule(),
		ContractIDs:   []string{f.contractID.String()},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDateConflict)

	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, existing.ID, conflict.CardID)
	assert.Equal(t, existing.Name, conflict.CardName)
	assert.Equal(t, 1, conflict.Version)
}

func TestCreateStandardAllowsAdjacentIntervals(t *testing.T) {
	f := newFixture(t)
	mar1 := date(2025, time.March, 1)

	f.createStandard(t, date(2025, time.January, 1), &mar1)

	// A card starting exactly where the previous one ends is not an
	// overlap: intervals are half-open.
	card, err := f.svc.CreateStandard(context.Background(), domain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		Name:          "spring rates",
		EffectiveDate: mar1,
		Schedule:      baseSchedule(),
		ContractIDs:   []string{f.contractID.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, card.Version)
}

func TestCreateVersionSupersedesParentAtomically(t *testing.T) {
	f := newFixture(t)
	parent := f.createStandard(t, date(2025, time.January, 1), nil)

	child, err := f.svc.CreateVersion(context.Background(), domain.CreateVersionRequest{
		ParentID:      parent.ID,
		EffectiveDate: date(2025, time.June, 1),
		Schedule: domain.RateSchedule{
			Services: map[domain.ServiceType]domain.ServiceRates{
				domain.ServiceStorage: {"pallet_monthly": 2500},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, child.Version)
	require.NotNil(t, child.SupersedesID)
	assert.Equal(t, parent.ID, *child.SupersedesID)
	assert.True(t, child.IsActive)

	// Parent closes at the child's effective date in the same commit.
	reloaded, err := f.svc.GetForDate(context.Background(), f.customerID.String(), date(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, parent.ID, reloaded.ID)
	assert.False(t, reloaded.IsActive)
	require.NotNil(t, reloaded.ExpiresDate)
	assert.True(t, reloaded.ExpiresDate.Equal(date(2025, time.June, 1)))

	// Omitted sections inherit, supplied sections win wholesale.
	assert.EqualValues(t, 2500, child.Schedule.Services[domain.ServiceStorage]["pallet_monthly"])
	assert.EqualValues(t, 150, child.Schedule.Services[domain.ServiceFulfillment]["per_order"])
	assert.EqualValues(t, 200, child.Schedule.VAS["kitting"])

	// Links inherit when the request names none.
	require.Len(t, child.ContractLinks, 1)
	assert.Equal(t, f.contractID.String(), child.ContractLinks[0].ContractID)
}

func TestCreateVersionRequiresLaterEffectiveDate(t *testing.T) {
	f := newFixture(t)
	parent := f.createStandard(t, date(2025, time.June, 1), nil)

	_, err := f.svc.CreateVersion(context.Background(), domain.CreateVersionRequest{
		ParentID:      parent.ID,
		EffectiveDate: date(2025, time.June, 1),
		Schedule:      baseSchedule(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEffectiveDate)
}

func TestCreateVersionRejectsArchivedParent(t *testing.T) {
	f := newFixture(t)
	parent := f.createStandard(t, date(2025, time.January, 1), nil)

	_, err := f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: parent.ID, Reason: "signed in error"})
	require.NoError(t, err)

	_, err = f.svc.CreateVersion(context.Background(), domain.CreateVersionRequest{
		ParentID:      parent.ID,
		EffectiveDate: date(2025, time.June, 1),
		Schedule:      baseSchedule(),
	})
	assert.ErrorIs(t, err, domain.ErrParentArchived)
}

func TestCreateAdjustmentEnforcesContainment(t *testing.T) {
	f := newFixture(t)
	dec31 := date(2025, time.December, 31)
	parent := f.createStandard(t, date(2025, time.January, 1), &dec31)

	feb1, apr1 := date(2025, time.February, 1), date(2025, time.April, 1)
	adj, err := f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      parent.ID,
		Name:          "Q1 storage promo",
		EffectiveDate: feb1,
		ExpiresDate:   &apr1,
		Schedule: domain.RateSchedule{
			Services: map[domain.ServiceType]domain.ServiceRates{
				domain.ServiceStorage: {"pallet_monthly": 1500},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CardTypeAdjustment, adj.CardType)
	require.NotNil(t, adj.ParentCardID)
	assert.Equal(t, parent.ID, *adj.ParentCardID)

	// Extending past the parent's expiry is out of bounds.
	next := date(2026, time.June, 1)
	_, err = f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      parent.ID,
		Name:          "overhanging promo",
		EffectiveDate: date(2025, time.November, 1),
		ExpiresDate:   &next,
		Schedule: domain.RateSchedule{
			VAS: map[string]int64{"labeling": 50},
		},
	})
	assert.ErrorIs(t, err, domain.ErrAdjustmentOutOfBounds)

	// An open-ended adjustment cannot overlay a bounded parent.
	_, err = f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      parent.ID,
		Name:          "open ended promo",
		EffectiveDate: date(2025, time.May, 1),
		Schedule: domain.RateSchedule{
			VAS: map[string]int64{"labeling": 50},
		},
	})
	assert.ErrorIs(t, err, domain.ErrAdjustmentOutOfBounds)
}

func TestCreateAdjustmentRejectsNesting(t *testing.T) {
	f := newFixture(t)
	parent := f.createStandard(t, date(2025, time.January, 1), nil)

	mar1, jun1 := date(2025, time.March, 1), date(2025, time.June, 1)
	adj, err := f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      parent.ID,
		Name:          "spring promo",
		EffectiveDate: mar1,
		ExpiresDate:   &jun1,
		Schedule:      domain.RateSchedule{VAS: map[string]int64{"kitting": 100}},
	})
	require.NoError(t, err)

	_, err = f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      adj.ID,
		Name:          "promo on a promo",
		EffectiveDate: mar1,
		ExpiresDate:   &jun1,
		Schedule:      domain.RateSchedule{VAS: map[string]int64{"kitting": 50}},
	})
	assert.ErrorIs(t, err, domain.ErrParentNotStandard)
}

func TestArchiveRequiresReason(t *testing.T) {
	f := newFixture(t)
	card := f.createStandard(t, date(2025, time.January, 1), nil)

	_, err := f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: card.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestRestoreRevalidatesTimeline(t *testing.T) {
	f := newFixture(t)
	card := f.createStandard(t, date(2025, time.January, 1), nil)

	archived, err := f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: card.ID, Reason: "renegotiated"})
	require.NoError(t, err)
	assert.NotNil(t, archived.ArchivedAt)
	assert.False(t, archived.IsActive)

	// The freed interval gets reassigned while the card sits archived.
	replacement := f.createStandard(t, date(2025, time.January, 1), nil)
	assert.Equal(t, 2, replacement.Version)

	_, err = f.svc.Restore(context.Background(), card.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDateConflict)

	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, replacement.ID, conflict.CardID)
}

func TestRestoreClearsArchiveState(t *testing.T) {
	f := newFixture(t)
	card := f.createStandard(t, date(2025, time.January, 1), nil)

	_, err := f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: card.ID, Reason: "mistake"})
	require.NoError(t, err)

	restored, err := f.svc.Restore(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.ArchivedAt)
	assert.Nil(t, restored.ArchivedReason)
	assert.False(t, restored.IsActive, "restore must not reactivate")

	_, err = f.svc.Restore(context.Background(), card.ID)
	assert.ErrorIs(t, err, domain.ErrCardNotArchived)

	activated, err := f.svc.Activate(context.Background(), card.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)
}

func TestDeactivateClosesInterval(t *testing.T) {
	f := newFixture(t)
	card := f.createStandard(t, date(2025, time.January, 1), nil)

	deactivated, err := f.svc.Deactivate(context.Background(), card.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	require.NotNil(t, deactivated.ExpiresDate)
	assert.True(t, deactivated.ExpiresDate.Equal(f.clk.Now().UTC()))
}

func TestActivateRejectsArchivedCard(t *testing.T) {
	f := newFixture(t)
	card := f.createStandard(t, date(2025, time.January, 1), nil)

	_, err := f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: card.ID, Reason: "dormant"})
	require.NoError(t, err)

	_, err = f.svc.Activate(context.Background(), card.ID)
	assert.ErrorIs(t, err, domain.ErrCardArchived)
}

func TestRestoreAdjustmentRequiresLiveParent(t *testing.T) {
	f := newFixture(t)
	parent := f.createStandard(t, date(2025, time.January, 1), nil)

	mar1, jun1 := date(2025, time.March, 1), date(2025, time.June, 1)
	adj, err := f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      parent.ID,
		Name:          "spring promo",
		EffectiveDate: mar1,
		ExpiresDate:   &jun1,
		Schedule:      domain.RateSchedule{VAS: map[string]int64{"kitting": 100}},
	})
	require.NoError(t, err)

	_, err = f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: adj.ID, Reason: "promo pulled"})
	require.NoError(t, err)
	_, err = f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: parent.ID, Reason: "contract ended"})
	require.NoError(t, err)

	_, err = f.svc.Restore(context.Background(), adj.ID)
	assert.ErrorIs(t, err, domain.ErrParentArchived)
}

func TestCreateAdjustmentRejectsEmptyInheritedLinks(t *testing.T) {
	f := newFixture(t)
	parent := f.createStandard(t, date(2025, time.January, 1), nil)

	parentID, err := snowflake.ParseString(parent.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Where("rate_card_id = ?", parentID).Delete(&domain.ContractLink{}).Error)

	_, err = f.svc.CreateAdjustment(context.Background(), domain.CreateAdjustmentRequest{
		ParentID:      parent.ID,
		Name:          "orphaned overlay",
		EffectiveDate: date(2025, time.March, 1),
		Schedule:      domain.RateSchedule{VAS: map[string]int64{"kitting": 100}},
	})
	assert.ErrorIs(t, err, domain.ErrEmptyContractSet)
}

func TestGetActiveUsesClock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetActive(context.Background(), f.customerID.String())
	assert.ErrorIs(t, err, domain.ErrNoActiveCard)

	card := f.createStandard(t, date(2025, time.January, 1), nil)

	active, err := f.svc.GetActive(context.Background(), f.customerID.String())
	require.NoError(t, err)
	assert.Equal(t, card.ID, active.ID)
}

func TestGetForDateMissesOutsideInterval(t *testing.T) {
	f := newFixture(t)
	mar1 := date(2025, time.March, 1)
	f.createStandard(t, date(2025, time.January, 1), &mar1)

	_, err := f.svc.GetForDate(context.Background(), f.customerID.String(), date(2025, time.April, 1))
	assert.ErrorIs(t, err, domain.ErrNoCardForDate)
}

func TestHistoryOrdersAndFiltersArchived(t *testing.T) {
	f := newFixture(t)
	mar1 := date(2025, time.March, 1)
	first := f.createStandard(t, date(2025, time.January, 1), &mar1)
	second := f.createStandard(t, mar1, nil)

	_, err := f.svc.Archive(context.Background(), domain.ArchiveRequest{ID: first.ID, Reason: "superseded externally"})
	require.NoError(t, err)

	visible, err := f.svc.History(context.Background(), domain.HistoryRequest{CustomerID: f.customerID.String()})
	require.NoError(t, err)
	require.Len(t, visible.Cards, 1)
	assert.Equal(t, second.ID, visible.Cards[0].ID)

	all, err := f.svc.History(context.Background(), domain.HistoryRequest{CustomerID: f.customerID.String(), IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all.Cards, 2)
}
