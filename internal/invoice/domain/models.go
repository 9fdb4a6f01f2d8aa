// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "DRAFT"
	InvoiceStatusIssued   InvoiceStatus = "ISSUED"
	InvoiceStatusSent     InvoiceStatus = "SENT"
	InvoiceStatusPartial  InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusOverdue  InvoiceStatus = "OVERDUE"
	InvoiceStatusVoid     InvoiceStatus = "VOID"
	InvoiceStatusCredited InvoiceStatus = "CREDITED"
)

// Invoice is one billing period for one customer. A customer has at most
// one invoice per period start; regenerating while still in draft replaces
// the lines instead of appending a second invoice.
type Invoice struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_invoice_period,priority:1"`

	// Sequence and Number are assigned at issue, not at generation, so
	// voided drafts never burn a number.
	Sequence *int64  `gorm:"uniqueIndex"`
	Number   *string `gorm:"type:text;uniqueIndex"`

	Status InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`

	PeriodStart time.Time `gorm:"not null;uniqueIndex:ux_invoice_period,priority:2"`
	PeriodEnd   time.Time `gorm:"not null"`

	SubtotalCents         int64 `gorm:"not null;default:0"`
	MinimumShortfallCents int64 `gorm:"not null;default:0"`
	TotalCents            int64 `gorm:"not null;default:0"`
	AmountPaidCents       int64 `gorm:"not null;default:0"`

	UnpricedLineCount int `gorm:"not null;default:0"`

	IssuedAt *time.Time `gorm:""`
	DueAt    *time.Time `gorm:""`
	PaidAt   *time.Time `gorm:""`
	VoidedAt *time.Time `gorm:""`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Editable reports whether the invoice can still be regenerated.
func (i *Invoice) Editable() bool { return i.Status == InvoiceStatusDraft }

// Line categories beyond the service catalog.
const (
	CategoryVAS     = "vas"
	CategoryMinimum = "minimum"
)

// InvoiceLine is one aggregated charge. Activities sharing activity type,
// category and unit rate collapse into a single line; an activity priced at
// a different rate (a mid-period adjustment boundary, say) stays separate
// so the invoice shows both rates.
type InvoiceLine struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InvoiceID snowflake.ID `gorm:"not null;index"`

	ActivityType string `gorm:"type:text;not null"`
	Category     string `gorm:"type:text;not null"`
	Description  string `gorm:"type:text;not null"`

	Quantity      float64 `gorm:"not null"`
	UnitRateCents int64   `gorm:"not null"`
	AmountCents   int64   `gorm:"not null"`

	// Unpriced marks volume no covering rate source could price. The
	// line carries zero amount and is surfaced for manual review instead
	// of being silently dropped.
	Unpriced bool `gorm:"not null;default:false"`

	SourceCardID   *snowflake.ID `gorm:"index"`
	SourceCardName string        `gorm:"type:text"`

	SortOrder int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }
