// Package domain holds the billable activity ledger. Records are
// insert-only: a mistake is corrected by a compensating record, never by
// rewriting history an invoice may already have been generated from.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BillableActivity struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID   snowflake.ID `gorm:"not null;index:ix_activity_customer_period,priority:1" json:"customer_id"`
	ActivityType string       `gorm:"type:text;not null;index" json:"activity_type"`
	OccurredAt   time.Time    `gorm:"not null;index:ix_activity_customer_period,priority:2" json:"occurred_at"`

	// Quantity is negative on correction records.
	Quantity float64 `gorm:"not null" json:"quantity"`
	Zone     *int    `json:"zone,omitempty"`

	// RateOverrideCents pins the unit rate for this occurrence,
	// bypassing rate card resolution entirely.
	RateOverrideCents *int64 `json:"rate_override_cents,omitempty"`

	Description string `gorm:"type:text" json:"description,omitempty"`
	Reference   string `gorm:"type:text;index" json:"reference,omitempty"`

	CorrectsID     *snowflake.ID `gorm:"uniqueIndex" json:"corrects_id,omitempty"`
	IdempotencyKey *string       `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedBy string            `gorm:"type:text" json:"created_by,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (BillableActivity) TableName() string { return "billable_activities" }

// Correction reports whether the record reverses another one.
func (a *BillableActivity) Correction() bool { return a.CorrectsID != nil }
