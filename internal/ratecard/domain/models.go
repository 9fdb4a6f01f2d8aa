// Package domain contains persistence models for customer rate cards.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CardType distinguishes full contract snapshots from bounded overlays.
type CardType string

const (
	CardTypeStandard   CardType = "STANDARD"
	CardTypeAdjustment CardType = "ADJUSTMENT"
)

// LinkType qualifies how a rate card relates to a contract.
type LinkType string

const (
	LinkTypePrimary   LinkType = "PRIMARY"
	LinkTypeAddendum  LinkType = "ADDENDUM"
	LinkTypeAmendment LinkType = "AMENDMENT"
)

// RateCard is a priced contract snapshot for one customer. Standard cards
// partition time per customer; adjustments overlay a standard parent within
// its interval. ParentCardID and SupersedesID are lookup keys, never
// ownership edges: a card is soft-archived, not deleted, while anything
// references it.
type RateCard struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	Name       string       `gorm:"type:text;not null"`
	CardType   CardType     `gorm:"type:text;not null;default:'STANDARD'"`

	// Version is meaningful for standard cards only and is unique per
	// customer among them.
	Version int `gorm:"not null;default:1"`

	EffectiveDate time.Time  `gorm:"not null;index"`
	ExpiresDate   *time.Time `gorm:""` // nil = open-ended
	IsActive      bool       `gorm:"not null;default:true"`

	ParentCardID *snowflake.ID `gorm:"index"` // adjustments: the standard card overlaid
	SupersedesID *snowflake.ID `gorm:"index"` // standard v2+: the prior version replaced

	Schedule            RateSchedule `gorm:"type:jsonb;serializer:json;not null"`
	MinimumMonthlyCents *int64       `gorm:""`

	ArchivedAt     *time.Time `gorm:"index"`
	ArchivedBy     *string    `gorm:"type:text"`
	ArchivedReason *string    `gorm:"type:text"`

	CreatedBy string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	ContractLinks []ContractLink `gorm:"foreignKey:RateCardID"`
}

// TableName sets the database table name.
func (RateCard) TableName() string { return "rate_cards" }

// Archived reports whether the card is soft-deleted.
func (c *RateCard) Archived() bool { return c.ArchivedAt != nil }

// Covers reports whether the card's interval contains the given date.
// The interval is [EffectiveDate, ExpiresDate) with a nil end open.
func (c *RateCard) Covers(date time.Time) bool {
	if date.Before(c.EffectiveDate) {
		return false
	}
	if c.ExpiresDate == nil {
		return true
	}
	return date.Before(*c.ExpiresDate)
}

// EndOrFarFuture returns the card's end date, substituting a far-future
// sentinel for open-ended cards so interval math stays total.
func (c *RateCard) EndOrFarFuture() time.Time {
	return EndOrFarFuture(c.ExpiresDate)
}

// FarFuture is the sentinel used in interval comparisons for open-ended
// cards.
var FarFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// EndOrFarFuture substitutes the far-future sentinel for a nil end date.
func EndOrFarFuture(end *time.Time) time.Time {
	if end == nil {
		return FarFuture
	}
	return *end
}

// ContractLink joins a rate card to a contract. Every non-archived card
// keeps at least one link.
type ContractLink struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	RateCardID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_contract_link,priority:1"`
	ContractID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_contract_link,priority:2"`
	LinkType   LinkType     `gorm:"type:text;not null;default:'PRIMARY'"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ContractLink) TableName() string { return "rate_card_contract_links" }
