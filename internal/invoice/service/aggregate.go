package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"

	activitydomain "github.com/warebill/warebill/internal/activity/domain"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

// roundMoney rounds half away from zero. Line amounts are computed from a
// float quantity times an integer cent rate, so the product must collapse
// back to whole cents deterministically.
func roundMoney(raw float64) int64 {
	if raw < 0 {
		return -int64(math.Floor(-raw + 0.5))
	}
	return int64(math.Floor(raw + 0.5))
}

// lineKey groups activity occurrences that belong on the same invoice
// line. Unit rate is part of the key: the same activity type billed at two
// rates across an adjustment boundary produces two lines, one per rate.
type lineKey struct {
	activityType string
	category     string
	unitRate     int64
	unpriced     bool
}

type lineAccumulator struct {
	key        lineKey
	quantity   float64
	sourceID   snowflake.ID
	sourceName string
}

// pricedActivity pairs an activity with its resolved rate.
type pricedActivity struct {
	activity   activitydomain.BillableActivity
	resolution ratingdomain.Resolution
}

// aggregateLines collapses priced activities into invoice lines with
// deterministic ordering: category, then activity type, then unit rate,
// with unpriced lines last inside their category.
func aggregateLines(priced []pricedActivity, unpricedDescription string) []invoicedomain.InvoiceLine {
	groups := map[lineKey]*lineAccumulator{}
	for _, pa := range priced {
		category := categoryOf(pa.activity.ActivityType)
		key := lineKey{
			activityType: pa.activity.ActivityType,
			category:     category,
			unitRate:     pa.resolution.RateCents,
			unpriced:     !pa.resolution.Priced,
		}
		acc, ok := groups[key]
		if !ok {
			acc = &lineAccumulator{key: key}
			if pa.resolution.Priced {
				acc.sourceID = pa.resolution.SourceID
				acc.sourceName = pa.resolution.SourceName
			}
			groups[key] = acc
		}
		acc.quantity += pa.activity.Quantity
	}

	accs := make([]*lineAccumulator, 0, len(groups))
	for _, acc := range groups {
		// Corrections can cancel a group entirely.
		if acc.quantity == 0 {
			continue
		}
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool {
		a, b := accs[i].key, accs[j].key
		if a.category != b.category {
			return categoryRank(a.category) < categoryRank(b.category)
		}
		if a.unpriced != b.unpriced {
			return !a.unpriced
		}
		if a.activityType != b.activityType {
			return a.activityType < b.activityType
		}
		return a.unitRate < b.unitRate
	})

	lines := make([]invoicedomain.InvoiceLine, 0, len(accs))
	for order, acc := range accs {
		line := invoicedomain.InvoiceLine{
			ActivityType:  acc.key.activityType,
			Category:      acc.key.category,
			Quantity:      acc.quantity,
			UnitRateCents: acc.key.unitRate,
			SortOrder:     order,
		}
		if acc.key.unpriced {
			line.Unpriced = true
			line.UnitRateCents = 0
			line.AmountCents = 0
			line.Description = fmt.Sprintf("%s %s", unpricedDescription, describeActivityType(acc.key.activityType))
		} else {
			line.AmountCents = roundMoney(acc.quantity * float64(acc.key.unitRate))
			line.Description = describeActivityType(acc.key.activityType)
			if acc.sourceID != 0 {
				id := acc.sourceID
				line.SourceCardID = &id
				line.SourceCardName = acc.sourceName
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func categoryOf(activityType string) string {
	service, _, _ := strings.Cut(activityType, ".")
	return service
}

// categoryRank fixes the section order on the rendered invoice.
func categoryRank(category string) int {
	switch category {
	case string(ratecarddomain.ServiceStorage):
		return 0
	case string(ratecarddomain.ServiceReceiving):
		return 1
	case string(ratecarddomain.ServiceFulfillment):
		return 2
	case string(ratecarddomain.ServiceReturns):
		return 3
	case string(ratecarddomain.ServiceShipping):
		return 4
	case invoicedomain.CategoryVAS:
		return 5
	case invoicedomain.CategoryMinimum:
		return 6
	default:
		return 7
	}
}

// describeActivityType renders "fulfillment.per_order" as
// "Fulfillment (per order)".
func describeActivityType(activityType string) string {
	service, subtype, ok := strings.Cut(activityType, ".")
	if !ok {
		return activityType
	}
	service = strings.ToUpper(service[:1]) + service[1:]
	return fmt.Sprintf("%s (%s)", service, strings.ReplaceAll(subtype, "_", " "))
}
