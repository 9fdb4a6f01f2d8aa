package domain

import "sort"

// ValidateTiers checks that volume tiers form a non-overlapping sequence:
// nothing may follow an open-ended tier, and adjacent tiers must not
// intersect. Gaps between tiers are permitted; a volume landing in a gap
// resolves to no rate and is surfaced as an unpriced line downstream.
func ValidateTiers(tiers []VolumeTier) bool {
	if len(tiers) == 0 {
		return true
	}

	sorted := make([]VolumeTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinVolume < sorted[j].MinVolume })

	for i := 0; i < len(sorted)-1; i++ {
		current, next := sorted[i], sorted[i+1]
		if current.MaxVolume == nil {
			return false
		}
		if *current.MaxVolume >= next.MinVolume {
			return false
		}
	}
	return true
}

// ValidateZones applies the same walk to shipping zone bands.
func ValidateZones(zones []ZoneRate) bool {
	if len(zones) == 0 {
		return true
	}

	sorted := make([]ZoneRate, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinZone < sorted[j].MinZone })

	for i := 0; i < len(sorted)-1; i++ {
		current, next := sorted[i], sorted[i+1]
		if current.MaxZone == nil {
			return false
		}
		if *current.MaxZone >= next.MinZone {
			return false
		}
	}
	return true
}

// ValidateSchedule rejects schedules referencing unknown subtypes or
// malformed tier and zone partitions.
func ValidateSchedule(schedule RateSchedule) error {
	for svc, rates := range schedule.Services {
		if _, ok := Subtypes[svc]; !ok {
			return ErrUnknownServiceType
		}
		for subtype := range rates {
			if !KnownSubtype(svc, subtype) {
				return ErrUnknownSubtype
			}
		}
	}
	for svc, tiers := range schedule.Tiers {
		if _, ok := Subtypes[svc]; !ok {
			return ErrUnknownServiceType
		}
		if !ValidateTiers(tiers) {
			return ErrInvalidTiers
		}
	}
	if !ValidateZones(schedule.Zones) {
		return ErrInvalidZones
	}
	for key, rate := range schedule.VAS {
		if key == "" || rate < 0 {
			return ErrInvalidVASRate
		}
	}
	return nil
}
