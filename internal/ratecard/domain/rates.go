package domain

// ServiceType identifies a billable service family on a rate card.
type ServiceType string

const (
	ServiceStorage     ServiceType = "storage"
	ServiceReceiving   ServiceType = "receiving"
	ServiceFulfillment ServiceType = "fulfillment"
	ServiceReturns     ServiceType = "returns"
	ServiceShipping    ServiceType = "shipping"
)

// Subtypes is the fixed pricing catalog per service type. Resolution walks
// this list, never the keys present on a card, so a card defining an unknown
// subtype is rejected at write time rather than silently billed.
var Subtypes = map[ServiceType][]string{
	ServiceStorage: {
		"pallet_monthly",
		"pallet_daily",
		"cubic_foot_monthly",
		"long_term_penalty_monthly",
	},
	ServiceReceiving: {
		"per_pallet",
		"per_carton",
		"per_unit",
		"container_flat",
	},
	ServiceFulfillment: {
		"per_order",
		"per_line",
		"per_unit",
	},
	ServiceReturns: {
		"per_return",
		"per_unit",
	},
	// shipping is priced by zone bands, not flat subtypes
	ServiceShipping: {
		"parcel",
	},
}

// KnownSubtype reports whether the subtype belongs to the service catalog.
func KnownSubtype(service ServiceType, subtype string) bool {
	for _, s := range Subtypes[service] {
		if s == subtype {
			return true
		}
	}
	return false
}

// ServiceRates maps a catalog subtype to a unit rate in cents. An absent
// key means "not priced by this source", never "free".
type ServiceRates map[string]int64

// VolumeTier prices a contiguous volume band. MaxVolume nil marks the
// open-ended top tier.
type VolumeTier struct {
	MinVolume float64  `json:"min_volume"`
	MaxVolume *float64 `json:"max_volume,omitempty"`
	RateCents int64    `json:"rate_cents"`
}

// Contains reports whether the volume falls inside the tier band.
func (t VolumeTier) Contains(volume float64) bool {
	if volume < t.MinVolume {
		return false
	}
	return t.MaxVolume == nil || volume <= *t.MaxVolume
}

// ZoneRate prices a contiguous shipping zone band. MaxZone nil marks the
// open-ended top band.
type ZoneRate struct {
	MinZone   int   `json:"min_zone"`
	MaxZone   *int  `json:"max_zone,omitempty"`
	RateCents int64 `json:"rate_cents"`
}

// Contains reports whether the zone falls inside the band.
func (z ZoneRate) Contains(zone int) bool {
	if zone < z.MinZone {
		return false
	}
	return z.MaxZone == nil || zone <= *z.MaxZone
}

// RateSchedule is the full pricing payload of a rate card, serialized as
// one JSON column. Sections are independent: a schedule supplying only VAS
// is a valid adjustment payload.
type RateSchedule struct {
	Services map[ServiceType]ServiceRates `json:"services,omitempty"`
	Tiers    map[ServiceType][]VolumeTier `json:"tiers,omitempty"`
	Zones    []ZoneRate                   `json:"zones,omitempty"`
	VAS      map[string]int64             `json:"vas,omitempty"`
}

// IsZero reports whether no section is populated.
func (s RateSchedule) IsZero() bool {
	return len(s.Services) == 0 && len(s.Tiers) == 0 && len(s.Zones) == 0 && len(s.VAS) == 0
}

// MergeOnto layers this schedule over a parent's: sections supplied here
// win wholesale, omitted sections inherit. Merging inside a section would
// be ambiguous (what happens to tiers the child never mentions?), so
// overriding is all-or-nothing per service table, tier list, zone list and
// VAS map.
func (s RateSchedule) MergeOnto(parent RateSchedule) RateSchedule {
	merged := RateSchedule{
		Services: map[ServiceType]ServiceRates{},
		Tiers:    map[ServiceType][]VolumeTier{},
	}
	for svc, rates := range parent.Services {
		merged.Services[svc] = rates
	}
	for svc, rates := range s.Services {
		merged.Services[svc] = rates
	}
	for svc, tiers := range parent.Tiers {
		merged.Tiers[svc] = tiers
	}
	for svc, tiers := range s.Tiers {
		merged.Tiers[svc] = tiers
	}
	merged.Zones = parent.Zones
	if len(s.Zones) > 0 {
		merged.Zones = s.Zones
	}
	merged.VAS = parent.VAS
	if len(s.VAS) > 0 {
		merged.VAS = s.VAS
	}
	return merged
}
