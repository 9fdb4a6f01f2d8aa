package domain

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors: the input itself is malformed or incomplete.
var (
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidEffectiveDate = errors.New("invalid_effective_date")
	ErrInvalidDateRange     = errors.New("invalid_date_range")
	ErrInvalidID            = errors.New("invalid_id")
	ErrUnknownServiceType   = errors.New("unknown_service_type")
	ErrUnknownSubtype       = errors.New("unknown_subtype")
	ErrInvalidTiers         = errors.New("invalid_tiers")
	ErrInvalidZones         = errors.New("invalid_zones")
	ErrInvalidVASRate       = errors.New("invalid_vas_rate")
	ErrEmptyContractSet     = errors.New("empty_contract_set")
	ErrEmptySchedule        = errors.New("empty_schedule")
	ErrInvalidReason        = errors.New("invalid_reason")
)

// Not-found errors.
var (
	ErrNotFound       = errors.New("rate_card_not_found")
	ErrParentNotFound = errors.New("parent_rate_card_not_found")
)

// State errors: the operation is invalid for the card's current state.
var (
	ErrParentArchived    = errors.New("parent_rate_card_archived")
	ErrParentNotStandard = errors.New("parent_rate_card_not_standard")
	ErrCardArchived      = errors.New("rate_card_archived")
	ErrCardNotArchived   = errors.New("rate_card_not_archived")
	ErrNotStandardCard   = errors.New("rate_card_not_standard")
)

// Conflict errors.
var (
	ErrDateConflict           = errors.New("date_conflict")
	ErrAdjustmentOutOfBounds  = errors.New("adjustment_out_of_bounds")
	ErrNoActiveCard           = errors.New("no_active_rate_card")
	ErrNoCardForDate          = errors.New("no_rate_card_for_date")
	ErrContractNotFound       = errors.New("contract_not_found")
	ErrConcurrentModification = errors.New("concurrent_modification")
)

// ConflictError identifies the existing card that blocks a write so the
// operator can pick a non-overlapping date instead of guessing.
type ConflictError struct {
	CardID        string
	CardName      string
	Version       int
	EffectiveDate time.Time
	ExpiresDate   *time.Time
}

func (e *ConflictError) Error() string {
	end := "open-ended"
	if e.ExpiresDate != nil {
		end = e.ExpiresDate.Format("2006-01-02")
	}
	return fmt.Sprintf(
		"date range conflicts with rate card %q (v%d) effective %s to %s",
		e.CardName,
		e.Version,
		e.EffectiveDate.Format("2006-01-02"),
		end,
	)
}

func (e *ConflictError) Unwrap() error { return ErrDateConflict }

// NewConflictError builds a ConflictError from the blocking card.
func NewConflictError(card *RateCard) *ConflictError {
	return &ConflictError{
		CardID:        card.ID.String(),
		CardName:      card.Name,
		Version:       card.Version,
		EffectiveDate: card.EffectiveDate,
		ExpiresDate:   card.ExpiresDate,
	}
}

// IsValidationError reports whether err belongs to the validation class.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidCustomer,
		ErrInvalidName,
		ErrInvalidEffectiveDate,
		ErrInvalidDateRange,
		ErrInvalidID,
		ErrUnknownServiceType,
		ErrUnknownSubtype,
		ErrInvalidTiers,
		ErrInvalidZones,
		ErrInvalidVASRate,
		ErrEmptyContractSet,
		ErrEmptySchedule,
		ErrInvalidReason,
		ErrContractNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsStateError reports whether err belongs to the state class.
func IsStateError(err error) bool {
	for _, target := range []error{
		ErrParentArchived,
		ErrParentNotStandard,
		ErrCardArchived,
		ErrCardNotArchived,
		ErrNotStandardCard,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrNoActiveCard) || errors.Is(err, ErrNoCardForDate)
}

// IsConflict reports whether err belongs to the conflict class.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDateConflict) || errors.Is(err, ErrAdjustmentOutOfBounds)
}
