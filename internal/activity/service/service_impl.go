package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/warebill/warebill/internal/actorcontext"
	"github.com/warebill/warebill/internal/activity/domain"
	"github.com/warebill/warebill/internal/clock"
	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
	"github.com/warebill/warebill/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("activity.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, req domain.RecordRequest) (*domain.BillableActivity, error) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, domain.ErrInvalidCustomer
	}

	if _, _, err := ratingdomain.ParseActivityType(req.ActivityType); err != nil {
		return nil, err
	}

	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if req.OccurredAt.IsZero() {
		return nil, domain.ErrInvalidOccurredAt
	}

	activity := &domain.BillableActivity{
		ID:                s.genID.Generate(),
		CustomerID:        customerID,
		ActivityType:      strings.TrimSpace(req.ActivityType),
		OccurredAt:        req.OccurredAt.UTC(),
		Quantity:          req.Quantity,
		Zone:              req.Zone,
		RateOverrideCents: req.RateOverrideCents,
		Description:       strings.TrimSpace(req.Description),
		Reference:         strings.TrimSpace(req.Reference),
		Metadata:          datatypes.JSONMap(req.Metadata),
		CreatedBy:         actorcontext.ActorIDFromContext(ctx),
		CreatedAt:         s.clock.Now().UTC(),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		activity.IdempotencyKey = &key
	}

	if err := s.repo.Insert(ctx, s.db, activity); err != nil {
		// A replayed delivery returns the original record unchanged.
		if activity.IdempotencyKey != nil && db.IsDuplicateKeyErr(err) {
			existing, ferr := s.repo.FindByIdempotencyKey(ctx, s.db, *activity.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return activity, nil
}

func (s *Service) RecordCorrection(ctx context.Context, req domain.CorrectionRequest) (*domain.BillableActivity, error) {
	activityID, err := snowflake.ParseString(strings.TrimSpace(req.ActivityID))
	if err != nil || activityID == 0 {
		return nil, domain.ErrInvalidID
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}

	original, err := s.repo.FindByID(ctx, s.db, activityID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, domain.ErrNotFound
	}
	if original.Correction() {
		return nil, domain.ErrCorrectionChain
	}

	quantity := original.Quantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity <= 0 || quantity > original.Quantity {
		return nil, domain.ErrInvalidQuantity
	}

	correction := &domain.BillableActivity{
		ID:                s.genID.Generate(),
		CustomerID:        original.CustomerID,
		ActivityType:      original.ActivityType,
		OccurredAt:        original.OccurredAt,
		Quantity:          -quantity,
		Zone:              original.Zone,
		RateOverrideCents: original.RateOverrideCents,
		Description:       "Correction: " + reason,
		Reference:         original.Reference,
		CorrectsID:        &original.ID,
		Metadata:          datatypes.JSONMap{"reason": reason},
		CreatedBy:         actorcontext.ActorIDFromContext(ctx),
		CreatedAt:         s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, correction); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyCorrected
		}
		return nil, err
	}
	return correction, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.BillableActivity, error) {
	activityID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || activityID == 0 {
		return nil, domain.ErrInvalidID
	}
	activity, err := s.repo.FindByID(ctx, s.db, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, domain.ErrNotFound
	}
	return activity, nil
}

func (s *Service) ListForPeriod(ctx context.Context, customerID string, start, end time.Time) ([]domain.BillableActivity, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return nil, domain.ErrInvalidPeriod
	}
	return s.repo.ListForPeriod(ctx, s.db, id, start.UTC(), end.UTC())
}
