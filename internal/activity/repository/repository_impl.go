package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/warebill/warebill/internal/activity/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, activity *domain.BillableActivity) error {
	return db.WithContext(ctx).Create(activity).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillableActivity, error) {
	var activity domain.BillableActivity
	err := db.WithContext(ctx).Where("id = ?", id).First(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.BillableActivity, error) {
	var activity domain.BillableActivity
	err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

func (r *repo) ListForPeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, start, end time.Time) ([]domain.BillableActivity, error) {
	var activities []domain.BillableActivity
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Where("occurred_at >= ?", start).
		Where("occurred_at < ?", end).
		Order("occurred_at ASC, id ASC").
		Find(&activities).Error
	return activities, err
}
