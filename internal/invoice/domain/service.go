package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type GenerateRequest struct {
	CustomerID  string    `json:"customer_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

type PaymentRequest struct {
	InvoiceID   string `json:"invoice_id"`
	AmountCents int64  `json:"amount_cents"`
}

type Service interface {
	// Generate builds the draft invoice for the period. Rerunning on a
	// draft replaces its lines; rerunning on an issued invoice fails.
	Generate(ctx context.Context, req GenerateRequest) (*Invoice, error)

	Issue(ctx context.Context, id string) (*Invoice, error)
	MarkSent(ctx context.Context, id string) (*Invoice, error)
	RecordPayment(ctx context.Context, req PaymentRequest) (*Invoice, error)
	Void(ctx context.Context, id string) (*Invoice, error)

	GetByID(ctx context.Context, id string) (*Invoice, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Invoice, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindForPeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, periodStart time.Time) (*Invoice, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Invoice, error)

	ReplaceLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, lines []InvoiceLine) error

	// NextSequence reserves the next invoice number sequence. Must run
	// inside the issuing transaction.
	NextSequence(ctx context.Context, db *gorm.DB) (int64, error)
}

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrNotFound        = errors.New("invoice_not_found")
	ErrNotDraft        = errors.New("invoice_not_draft")
	ErrNotIssued       = errors.New("invoice_not_issued")
	ErrAlreadyPaid     = errors.New("invoice_already_paid")
	ErrVoided          = errors.New("invoice_voided")
	ErrOverpayment     = errors.New("payment_exceeds_balance")
)
