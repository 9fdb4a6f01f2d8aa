package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/warebill/warebill/pkg/db/pagination"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	Update(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, filter ListCustomerFilter, page pagination.Pagination) ([]*Customer, error)

	// ListActiveIDs feeds the billing scheduler. Offset paging keeps the
	// scan resumable across runs.
	ListActiveIDs(ctx context.Context, db *gorm.DB, limit, offset int) ([]snowflake.ID, error)
}
