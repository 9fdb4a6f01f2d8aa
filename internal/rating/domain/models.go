// Package domain defines the rate resolution views produced when the
// covering rate cards for a customer and date are flattened into concrete
// prices.
package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"

	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

// VASService is the pseudo service for value-added work. VAS keys are
// free-form per contract, so they live outside the fixed catalog and
// resolve by accumulation instead of shadowing.
const VASService = "vas"

// Resolution is one resolved price with its provenance. Priced false means
// no covering source defines a rate; the caller decides whether that is an
// unpriced flag or a zero line.
type Resolution struct {
	RateCents  int64                   `json:"rate_cents"`
	Priced     bool                    `json:"priced"`
	SourceID   snowflake.ID            `json:"source_id,omitempty"`
	SourceName string                  `json:"source_name,omitempty"`
	SourceType ratecarddomain.CardType `json:"source_type,omitempty"`
}

// Quantity carries the metric dimensions an activity is priced on.
type Quantity struct {
	Volume float64
	Zone   *int
}

// EffectiveRates is the complete resolved view for one customer and date.
type EffectiveRates struct {
	Services map[ratecarddomain.ServiceType]map[string]Resolution `json:"services"`
	VAS      map[string]Resolution                                `json:"vas"`
	Minimum  *Resolution                                          `json:"minimum,omitempty"`
}

// ParseActivityType splits a "<service>.<subtype>" activity code. VAS codes
// pass through with any non-empty key; catalog codes must name a known
// service and subtype.
func ParseActivityType(code string) (ratecarddomain.ServiceType, string, error) {
	service, subtype, ok := strings.Cut(strings.TrimSpace(code), ".")
	if !ok || service == "" || subtype == "" {
		return "", "", ErrInvalidActivityType
	}
	if service == VASService {
		return VASService, subtype, nil
	}
	svc := ratecarddomain.ServiceType(service)
	if !ratecarddomain.KnownSubtype(svc, subtype) {
		return "", "", ErrInvalidActivityType
	}
	return svc, subtype, nil
}
