package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/warebill/warebill/internal/ratecard/domain"
	"github.com/warebill/warebill/pkg/db"
)

type repository struct{}

// Provide constructs the rate card repository.
func Provide() domain.Repository {
	return &repository{}
}

var _ domain.Repository = (*repository)(nil)

func (r *repository) Insert(ctx context.Context, tx *gorm.DB, card *domain.RateCard) error {
	return tx.WithContext(ctx).Create(card).Error
}

func (r *repository) Update(ctx context.Context, tx *gorm.DB, card *domain.RateCard) error {
	return tx.WithContext(ctx).Save(card).Error
}

func (r *repository) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.RateCard, error) {
	var card domain.RateCard
	err := tx.WithContext(ctx).
		Preload("ContractLinks").
		Where("id = ?", id).
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *repository) FindConflictingStandard(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, start, end time.Time, excludeID snowflake.ID) (*domain.RateCard, error) {
	q := tx.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Where("card_type = ?", domain.CardTypeStandard).
		Where("archived_at IS NULL").
		Where("effective_date < ?", end).
		Where("COALESCE(expires_date, ?) > ?", domain.FarFuture, start)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}

	var card domain.RateCard
	err := q.Order("effective_date ASC").First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *repository) ListCovering(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, date time.Time) ([]domain.RateCard, error) {
	var cards []domain.RateCard
	err := tx.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Where("archived_at IS NULL").
		Where("effective_date <= ?", date).
		Where("COALESCE(expires_date, ?) > ?", domain.FarFuture, date).
		Order("effective_date ASC, id ASC").
		Find(&cards).Error
	return cards, err
}

func (r *repository) FindActiveStandard(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, date time.Time) (*domain.RateCard, error) {
	var card domain.RateCard
	err := tx.WithContext(ctx).
		Preload("ContractLinks").
		Where("customer_id = ?", customerID).
		Where("card_type = ?", domain.CardTypeStandard).
		Where("archived_at IS NULL").
		Where("is_active = ?", true).
		Where("effective_date <= ?", date).
		Where("COALESCE(expires_date, ?) > ?", domain.FarFuture, date).
		Order("effective_date DESC").
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoActiveCard
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *repository) ListAdjustments(ctx context.Context, tx *gorm.DB, parentID snowflake.ID) ([]domain.RateCard, error) {
	var cards []domain.RateCard
	err := tx.WithContext(ctx).
		Where("parent_card_id = ?", parentID).
		Where("card_type = ?", domain.CardTypeAdjustment).
		Where("archived_at IS NULL").
		Order("effective_date ASC, id ASC").
		Find(&cards).Error
	return cards, err
}

func (r *repository) ListByCustomer(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, includeArchived bool) ([]domain.RateCard, error) {
	q := tx.WithContext(ctx).
		Preload("ContractLinks").
		Where("customer_id = ?", customerID)
	if !includeArchived {
		q = q.Where("archived_at IS NULL")
	}
	var cards []domain.RateCard
	err := q.Order("effective_date DESC, version DESC, id DESC").Find(&cards).Error
	return cards, err
}

func (r *repository) MaxVersion(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (int, error) {
	var max int
	err := tx.WithContext(ctx).
		Model(&domain.RateCard{}).
		Where("customer_id = ?", customerID).
		Where("card_type = ?", domain.CardTypeStandard).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max, err
}

func (r *repository) InsertLinks(ctx context.Context, tx *gorm.DB, links []domain.ContractLink) error {
	if len(links) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&links).Error
}

func (r *repository) ListLinks(ctx context.Context, tx *gorm.DB, cardID snowflake.ID) ([]domain.ContractLink, error) {
	var links []domain.ContractLink
	err := tx.WithContext(ctx).
		Where("rate_card_id = ?", cardID).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

// LockCustomer takes a transaction-scoped advisory lock keyed by the
// customer ID so concurrent card writers for the same customer serialize.
// Dialects without advisory locks fall through; sqlite already serializes
// writers at the database level.
func (r *repository) LockCustomer(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) error {
	if !db.SupportsAdvisoryLocks(tx) {
		return nil
	}
	return tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", int64(customerID)).Error
}
