package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateContractRequest struct {
	CustomerID string     `json:"customer_id"`
	Name       string     `json:"name"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

type Service interface {
	Create(context.Context, CreateContractRequest) (Contract, error)
	GetByID(ctx context.Context, id string) (Contract, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Contract, error)
	Activate(ctx context.Context, id string) (Contract, error)
	Terminate(ctx context.Context, id string) (Contract, error)

	// VerifyOwned checks that every id exists and belongs to the customer.
	VerifyOwned(ctx context.Context, customerID snowflake.ID, ids []snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contract *Contract) error
	Update(ctx context.Context, db *gorm.DB, contract *Contract) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contract, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Contract, error)
	CountOwned(ctx context.Context, db *gorm.DB, customerID snowflake.ID, ids []snowflake.ID) (int64, error)
}

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrNotFound         = errors.New("not_found")
	ErrNotOwned         = errors.New("contract_not_owned")
	ErrAlreadyActive    = errors.New("contract_already_active")
	ErrTerminated       = errors.New("contract_terminated")
)
