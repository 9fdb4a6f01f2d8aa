package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository methods take the *gorm.DB explicitly so the service layer can
// run several of them inside one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, card *RateCard) error
	Update(ctx context.Context, db *gorm.DB, card *RateCard) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RateCard, error)

	// FindConflictingStandard returns the first non-archived standard card
	// of the customer whose interval intersects [start, end). Intervals are
	// half-open, so a card ending exactly at start does not conflict.
	// Callers pass EndOrFarFuture for open-ended intervals. excludeID skips
	// the card being rewritten, zero skips nothing.
	FindConflictingStandard(ctx context.Context, db *gorm.DB, customerID snowflake.ID, start, end time.Time, excludeID snowflake.ID) (*RateCard, error)

	// ListCovering returns every non-archived card of the customer whose
	// interval contains date, standard and adjustments alike, ordered by
	// effective date ascending then ID ascending.
	ListCovering(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date time.Time) ([]RateCard, error)

	// FindActiveStandard returns the active standard card covering date,
	// or ErrNoActiveCard.
	FindActiveStandard(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date time.Time) (*RateCard, error)

	// ListAdjustments returns the non-archived adjustments overlaying the
	// given standard card.
	ListAdjustments(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]RateCard, error)

	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, includeArchived bool) ([]RateCard, error)

	// MaxVersion returns the highest standard-card version for the
	// customer, archived cards included so versions never recycle.
	MaxVersion(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int, error)

	InsertLinks(ctx context.Context, db *gorm.DB, links []ContractLink) error
	ListLinks(ctx context.Context, db *gorm.DB, cardID snowflake.ID) ([]ContractLink, error)

	// LockCustomer serializes writers per customer for the remainder of
	// the transaction. A no-op on dialects without advisory locks.
	LockCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) error
}
