package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	CardRepo ratecarddomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cardRepo ratecarddomain.Repository
}

func NewService(p ServiceParam) ratingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("rating.service"),
		cardRepo: p.CardRepo,
	}
}

func (s *Service) SourcesFor(ctx context.Context, customerID snowflake.ID, date time.Time) ([]ratecarddomain.RateCard, error) {
	if customerID == 0 {
		return nil, ratingdomain.ErrInvalidCustomer
	}

	covering, err := s.cardRepo.ListCovering(ctx, s.db, customerID, date.UTC())
	if err != nil {
		return nil, err
	}

	// Non-archived standard cards partition time, so at most one covers
	// the date. Adjustments only count when they overlay that standard:
	// an orphan whose parent lost coverage is dropped.
	var standard *ratecarddomain.RateCard
	for i := range covering {
		if covering[i].CardType == ratecarddomain.CardTypeStandard {
			standard = &covering[i]
			break
		}
	}
	if standard == nil {
		return nil, ratecarddomain.ErrNoCardForDate
	}

	sources := []ratecarddomain.RateCard{*standard}
	for i := range covering {
		card := covering[i]
		if card.CardType != ratecarddomain.CardTypeAdjustment {
			continue
		}
		if card.ParentCardID != nil && *card.ParentCardID == standard.ID {
			sources = append(sources, card)
		}
	}
	return sources, nil
}

func (s *Service) EffectiveRates(ctx context.Context, customerID snowflake.ID, date time.Time) (ratingdomain.EffectiveRates, error) {
	sources, err := s.SourcesFor(ctx, customerID, date)
	if err != nil {
		return ratingdomain.EffectiveRates{}, err
	}

	newest := byPrecedence(sources)

	view := ratingdomain.EffectiveRates{
		Services: map[ratecarddomain.ServiceType]map[string]ratingdomain.Resolution{},
		VAS:      resolveVAS(byAge(sources)),
		Minimum:  resolveMinimum(newest),
	}

	// Walk the catalog, not the cards: the view answers "what would this
	// subtype cost today" for every billable code, priced or not.
	for svc, subtypes := range ratecarddomain.Subtypes {
		rates := map[string]ratingdomain.Resolution{}
		for _, subtype := range subtypes {
			if res, ok := resolveFlatRate(newest, svc, subtype); ok {
				rates[subtype] = res
			}
		}
		if len(rates) > 0 {
			view.Services[svc] = rates
		}
	}
	return view, nil
}

func (s *Service) RateFor(ctx context.Context, customerID snowflake.ID, date time.Time, activityType string, qty ratingdomain.Quantity) (ratingdomain.Resolution, error) {
	svc, subtype, err := ratingdomain.ParseActivityType(activityType)
	if err != nil {
		return ratingdomain.Resolution{}, err
	}

	sources, err := s.SourcesFor(ctx, customerID, date)
	if err != nil {
		return ratingdomain.Resolution{}, err
	}

	if svc == ratingdomain.VASService {
		merged := resolveVAS(byAge(sources))
		if res, ok := merged[subtype]; ok {
			return res, nil
		}
		return ratingdomain.Resolution{}, nil
	}

	newest := byPrecedence(sources)

	if svc == ratecarddomain.ServiceShipping {
		if qty.Zone == nil {
			return ratingdomain.Resolution{}, nil
		}
		if res, ok := resolveZoneRate(newest, *qty.Zone); ok {
			return res, nil
		}
		return ratingdomain.Resolution{}, nil
	}

	if res, ok := resolveFlatRate(newest, svc, subtype); ok {
		return res, nil
	}
	if res, ok := resolveTierRate(newest, svc, qty.Volume); ok {
		return res, nil
	}
	return ratingdomain.Resolution{}, nil
}
