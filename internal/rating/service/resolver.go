package service

import (
	"sort"

	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

// Service rates, tiers and zones resolve by shadowing: the newest source
// defining a section wins it wholesale and older definitions are invisible.
// VAS resolves the opposite way, by accumulation: sources apply oldest
// first and each key keeps the latest writer. The asymmetry is deliberate.
// A schedule section is a coherent price table where mixing rows from two
// revisions would quote a combination nobody signed; VAS keys are
// independent one-off services where an adjustment naming one key must not
// erase the rest of the menu.

// byPrecedence orders sources newest first: later effective date wins,
// adjustments outrank their standard at equal dates, and later creation
// breaks remaining ties.
func byPrecedence(sources []ratecarddomain.RateCard) []ratecarddomain.RateCard {
	ordered := make([]ratecarddomain.RateCard, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		if a.CardType != b.CardType {
			return a.CardType == ratecarddomain.CardTypeAdjustment
		}
		return a.ID > b.ID
	})
	return ordered
}

// byAge is the accumulation order: oldest first, mirror of byPrecedence.
func byAge(sources []ratecarddomain.RateCard) []ratecarddomain.RateCard {
	ordered := byPrecedence(sources)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

func resolutionFrom(card *ratecarddomain.RateCard, rate int64) ratingdomain.Resolution {
	return ratingdomain.Resolution{
		RateCents:  rate,
		Priced:     true,
		SourceID:   card.ID,
		SourceName: card.Name,
		SourceType: card.CardType,
	}
}

// resolveFlatRate finds the newest source pricing the subtype directly.
func resolveFlatRate(sources []ratecarddomain.RateCard, svc ratecarddomain.ServiceType, subtype string) (ratingdomain.Resolution, bool) {
	for i := range sources {
		card := &sources[i]
		if rate, ok := card.Schedule.Services[svc][subtype]; ok {
			return resolutionFrom(card, rate), true
		}
	}
	return ratingdomain.Resolution{}, false
}

// resolveTierRate finds the newest source carrying a tier table for the
// service and prices the volume against it. A volume falling in a tier gap
// returns false even when an older source would have covered it: the
// winning table shadows completely.
func resolveTierRate(sources []ratecarddomain.RateCard, svc ratecarddomain.ServiceType, volume float64) (ratingdomain.Resolution, bool) {
	for i := range sources {
		card := &sources[i]
		tiers := card.Schedule.Tiers[svc]
		if len(tiers) == 0 {
			continue
		}
		for _, tier := range tiers {
			if tier.Contains(volume) {
				return resolutionFrom(card, tier.RateCents), true
			}
		}
		return ratingdomain.Resolution{}, false
	}
	return ratingdomain.Resolution{}, false
}

// resolveZoneRate prices a shipping zone against the newest zone table.
func resolveZoneRate(sources []ratecarddomain.RateCard, zone int) (ratingdomain.Resolution, bool) {
	for i := range sources {
		card := &sources[i]
		if len(card.Schedule.Zones) == 0 {
			continue
		}
		for _, band := range card.Schedule.Zones {
			if band.Contains(zone) {
				return resolutionFrom(card, band.RateCents), true
			}
		}
		return ratingdomain.Resolution{}, false
	}
	return ratingdomain.Resolution{}, false
}

// resolveVAS merges VAS maps oldest first so every key ever granted stays
// on the menu at its most recent rate.
func resolveVAS(sources []ratecarddomain.RateCard) map[string]ratingdomain.Resolution {
	merged := map[string]ratingdomain.Resolution{}
	for i := range sources {
		card := &sources[i]
		for key, rate := range card.Schedule.VAS {
			merged[key] = resolutionFrom(card, rate)
		}
	}
	return merged
}

// resolveMinimum finds the newest source declaring a monthly minimum.
func resolveMinimum(sources []ratecarddomain.RateCard) *ratingdomain.Resolution {
	for i := range sources {
		card := &sources[i]
		if card.MinimumMonthlyCents != nil {
			res := resolutionFrom(card, *card.MinimumMonthlyCents)
			return &res
		}
	}
	return nil
}
