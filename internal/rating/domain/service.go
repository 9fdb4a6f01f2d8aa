package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

type Service interface {
	// SourcesFor returns the covering standard card and its adjustments
	// for the date, or ratecard ErrNoCardForDate when the date falls in a
	// coverage hole.
	SourcesFor(ctx context.Context, customerID snowflake.ID, date time.Time) ([]ratecarddomain.RateCard, error)

	// EffectiveRates flattens the covering sources into the full resolved
	// view: every catalog subtype, the accumulated VAS map and the
	// monthly minimum.
	EffectiveRates(ctx context.Context, customerID snowflake.ID, date time.Time) (EffectiveRates, error)

	// RateFor resolves the price of a single activity occurrence.
	RateFor(ctx context.Context, customerID snowflake.ID, date time.Time, activityType string, qty Quantity) (Resolution, error)
}

var (
	ErrInvalidActivityType = errors.New("invalid_activity_type")
	ErrInvalidCustomer     = errors.New("invalid_customer")
)
