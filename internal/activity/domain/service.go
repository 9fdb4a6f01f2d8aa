package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RecordRequest struct {
	CustomerID        string         `json:"customer_id"`
	ActivityType      string         `json:"activity_type"`
	OccurredAt        time.Time      `json:"occurred_at"`
	Quantity          float64        `json:"quantity"`
	Zone              *int           `json:"zone,omitempty"`
	RateOverrideCents *int64         `json:"rate_override_cents,omitempty"`
	Description       string         `json:"description,omitempty"`
	Reference         string         `json:"reference,omitempty"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type CorrectionRequest struct {
	ActivityID string `json:"activity_id"`
	Reason     string `json:"reason"`

	// Quantity reverses partially when set; the default reverses the
	// full original amount.
	Quantity *float64 `json:"quantity,omitempty"`
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*BillableActivity, error)
	RecordCorrection(ctx context.Context, req CorrectionRequest) (*BillableActivity, error)
	GetByID(ctx context.Context, id string) (*BillableActivity, error)
	ListForPeriod(ctx context.Context, customerID string, start, end time.Time) ([]BillableActivity, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, activity *BillableActivity) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillableActivity, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*BillableActivity, error)

	// ListForPeriod returns activities with occurred_at in [start, end),
	// ordered by occurred_at then id so billing output is deterministic.
	ListForPeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, start, end time.Time) ([]BillableActivity, error)
}

var (
	ErrInvalidCustomer   = errors.New("invalid_customer")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidReason     = errors.New("invalid_reason")
	ErrNotFound          = errors.New("activity_not_found")
	ErrAlreadyCorrected  = errors.New("activity_already_corrected")
	ErrCorrectionChain   = errors.New("cannot_correct_a_correction")
)
