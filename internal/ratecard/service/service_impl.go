package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/warebill/warebill/internal/actorcontext"
	auditdomain "github.com/warebill/warebill/internal/audit/domain"
	"github.com/warebill/warebill/internal/clock"
	contractdomain "github.com/warebill/warebill/internal/contract/domain"
	"github.com/warebill/warebill/internal/observability/metrics"
	"github.com/warebill/warebill/internal/ratecard/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Contracts contractdomain.Service
	Audit     auditdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	contracts contractdomain.Service
	audit     auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("ratecard.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		contracts: p.Contracts,
		audit:     p.Audit,
	}
}

func (s *Service) CreateStandard(ctx context.Context, req domain.CreateStandardRequest) (*domain.CardResponse, error) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, domain.ErrInvalidCustomer
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	if err := validateInterval(req.EffectiveDate, req.ExpiresDate); err != nil {
		return nil, err
	}

	if req.Schedule.IsZero() {
		return nil, domain.ErrEmptySchedule
	}
	if err := domain.ValidateSchedule(req.Schedule); err != nil {
		return nil, err
	}

	contractIDs, err := parseContractIDs(req.ContractIDs)
	if err != nil {
		return nil, err
	}
	if len(contractIDs) == 0 {
		return nil, domain.ErrEmptyContractSet
	}

	card := &domain.RateCard{
		ID:                  s.genID.Generate(),
		CustomerID:          customerID,
		Name:                name,
		CardType:            domain.CardTypeStandard,
		EffectiveDate:       req.EffectiveDate.UTC(),
		ExpiresDate:         normalizeEnd(req.ExpiresDate),
		IsActive:            true,
		Schedule:            req.Schedule,
		MinimumMonthlyCents: req.MinimumMonthlyCents,
		CreatedBy:           actorcontext.ActorIDFromContext(ctx),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockCustomer(ctx, tx, customerID); err != nil {
			return err
		}

		if err := s.verifyContracts(ctx, customerID, contractIDs); err != nil {
			return err
		}

		blocking, err := s.repo.FindConflictingStandard(ctx, tx, customerID, card.EffectiveDate, card.EndOrFarFuture(), 0)
		if err != nil {
			return err
		}
		if blocking != nil {
			metrics.Billing().IncConflictRejection()
			return domain.NewConflictError(blocking)
		}

		version, err := s.repo.MaxVersion(ctx, tx, customerID)
		if err != nil {
			return err
		}
		card.Version = version + 1

		now := s.clock.Now().UTC()
		card.CreatedAt = now
		card.UpdatedAt = now
		if err := s.repo.Insert(ctx, tx, card); err != nil {
			return err
		}

		if err := s.repo.InsertLinks(ctx, tx, buildLinks(s.genID, card.ID, contractIDs, req.LinkType, now)); err != nil {
			return err
		}

		return s.recordAudit(ctx, tx, "ratecard.create", card, map[string]any{
			"customer_id": customerID.String(),
			"version":     card.Version,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.respond(ctx, card.ID)
}

func (s *Service) CreateVersion(ctx context.Context, req domain.CreateVersionRequest) (*domain.CardResponse, error) {
	parentID, err := snowflake.ParseString(strings.TrimSpace(req.ParentID))
	if err != nil || parentID == 0 {
		return nil, domain.ErrInvalidID
	}

	if err := validateInterval(req.EffectiveDate, req.ExpiresDate); err != nil {
		return nil, err
	}

	contractIDs, err := parseContractIDs(req.ContractIDs)
	if err != nil {
		return nil, err
	}

	var childID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := s.repo.FindByID(ctx, tx, parentID)
		if err != nil {
			if domain.IsNotFound(err) {
				return domain.ErrParentNotFound
			}
			return err
		}
		if parent.Archived() {
			return domain.ErrParentArchived
		}
		if parent.CardType != domain.CardTypeStandard {
			return domain.ErrParentNotStandard
		}

		if err := s.lockCustomer(ctx, tx, parent.CustomerID); err != nil {
			return err
		}

		effective := req.EffectiveDate.UTC()
		if !effective.After(parent.EffectiveDate) {
			return domain.ErrInvalidEffectiveDate
		}

		schedule := req.Schedule.MergeOnto(parent.Schedule)
		if err := domain.ValidateSchedule(schedule); err != nil {
			return err
		}

		minimum := req.MinimumMonthlyCents
		if minimum == nil {
			minimum = parent.MinimumMonthlyCents
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = parent.Name
		}

		links := contractIDs
		linkTypes := map[snowflake.ID]domain.LinkType{}
		if len(links) == 0 {
			inherited, err := s.repo.ListLinks(ctx, tx, parent.ID)
			if err != nil {
				return err
			}
			for _, link := range inherited {
				links = append(links, link.ContractID)
				linkTypes[link.ContractID] = link.LinkType
			}
		} else if err := s.verifyContracts(ctx, parent.CustomerID, links); err != nil {
			return err
		}
		if len(links) == 0 {
			return domain.ErrEmptyContractSet
		}

		child := &domain.RateCard{
			ID:                  s.genID.Generate(),
			CustomerID:          parent.CustomerID,
			Name:                name,
			CardType:            domain.CardTypeStandard,
			EffectiveDate:       effective,
			ExpiresDate:         normalizeEnd(req.ExpiresDate),
			IsActive:            true,
			SupersedesID:        &parent.ID,
			Schedule:            schedule,
			MinimumMonthlyCents: minimum,
			CreatedBy:           actorcontext.ActorIDFromContext(ctx),
		}

		blocking, err := s.repo.FindConflictingStandard(ctx, tx, parent.CustomerID, effective, child.EndOrFarFuture(), parent.ID)
		if err != nil {
			return err
		}
		if blocking != nil {
			metrics.Billing().IncConflictRejection()
			return domain.NewConflictError(blocking)
		}

		version, err := s.repo.MaxVersion(ctx, tx, parent.CustomerID)
		if err != nil {
			return err
		}
		child.Version = version + 1

		now := s.clock.Now().UTC()
		child.CreatedAt = now
		child.UpdatedAt = now
		if err := s.repo.Insert(ctx, tx, child); err != nil {
			return err
		}

		var cardLinks []domain.ContractLink
		for _, contractID := range links {
			linkType := req.LinkType
			if inherited, ok := linkTypes[contractID]; ok && req.LinkType == "" {
				linkType = inherited
			}
			if linkType == "" {
				linkType = domain.LinkTypePrimary
			}
			cardLinks = append(cardLinks, domain.ContractLink{
				ID:         s.genID.Generate(),
				RateCardID: child.ID,
				ContractID: contractID,
				LinkType:   linkType,
				CreatedAt:  now,
			})
		}
		if err := s.repo.InsertLinks(ctx, tx, cardLinks); err != nil {
			return err
		}

		// Supersession is atomic: the parent closes at the child's
		// effective date in the same commit that creates the child, so
		// no date is ever covered by two active standard cards.
		parent.IsActive = false
		if parent.ExpiresDate == nil || parent.ExpiresDate.After(effective) {
			parent.ExpiresDate = &effective
		}
		parent.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, parent); err != nil {
			return err
		}

		childID = child.ID
		return s.recordAudit(ctx, tx, "ratecard.version", child, map[string]any{
			"customer_id": parent.CustomerID.String(),
			"supersedes":  parent.ID.String(),
			"version":     child.Version,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.respond(ctx, childID)
}

func (s *Service) CreateAdjustment(ctx context.Context, req domain.CreateAdjustmentRequest) (*domain.CardResponse, error) {
	parentID, err := snowflake.ParseString(strings.TrimSpace(req.ParentID))
	if err != nil || parentID == 0 {
		return nil, domain.ErrInvalidID
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	if err := validateInterval(req.EffectiveDate, req.ExpiresDate); err != nil {
		return nil, err
	}

	if req.Schedule.IsZero() {
		return nil, domain.ErrEmptySchedule
	}
	if err := domain.ValidateSchedule(req.Schedule); err != nil {
		return nil, err
	}

	contractIDs, err := parseContractIDs(req.ContractIDs)
	if err != nil {
		return nil, err
	}

	var adjID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := s.repo.FindByID(ctx, tx, parentID)
		if err != nil {
			if domain.IsNotFound(err) {
				return domain.ErrParentNotFound
			}
			return err
		}
		if parent.Archived() {
			return domain.ErrParentArchived
		}

		// Overlays never stack: an adjustment's parent must be a
		// standard card, not another adjustment.
		if parent.CardType != domain.CardTypeStandard {
			return domain.ErrParentNotStandard
		}

		if err := s.lockCustomer(ctx, tx, parent.CustomerID); err != nil {
			return err
		}

		effective := req.EffectiveDate.UTC()
		end := domain.EndOrFarFuture(normalizeEnd(req.ExpiresDate))
		if effective.Before(parent.EffectiveDate) || end.After(parent.EndOrFarFuture()) {
			return domain.ErrAdjustmentOutOfBounds
		}

		links := contractIDs
		linkTypes := map[snowflake.ID]domain.LinkType{}
		if len(links) == 0 {
			inherited, err := s.repo.ListLinks(ctx, tx, parent.ID)
			if err != nil {
				return err
			}
			for _, link := range inherited {
				links = append(links, link.ContractID)
				linkTypes[link.ContractID] = link.LinkType
			}
		} else if err := s.verifyContracts(ctx, parent.CustomerID, links); err != nil {
			return err
		}
		if len(links) == 0 {
			return domain.ErrEmptyContractSet
		}

		now := s.clock.Now().UTC()
		adj := &domain.RateCard{
			ID:                  s.genID.Generate(),
			CustomerID:          parent.CustomerID,
			Name:                name,
			CardType:            domain.CardTypeAdjustment,
			Version:             parent.Version,
			EffectiveDate:       effective,
			ExpiresDate:         normalizeEnd(req.ExpiresDate),
			IsActive:            true,
			ParentCardID:        &parent.ID,
			Schedule:            req.Schedule,
			MinimumMonthlyCents: req.MinimumMonthlyCents,
			CreatedBy:           actorcontext.ActorIDFromContext(ctx),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.repo.Insert(ctx, tx, adj); err != nil {
			return err
		}

		var cardLinks []domain.ContractLink
		for _, contractID := range links {
			linkType := req.LinkType
			if inherited, ok := linkTypes[contractID]; ok && req.LinkType == "" {
				linkType = inherited
			}
			if linkType == "" {
				linkType = domain.LinkTypeAddendum
			}
			cardLinks = append(cardLinks, domain.ContractLink{
				ID:         s.genID.Generate(),
				RateCardID: adj.ID,
				ContractID: contractID,
				LinkType:   linkType,
				CreatedAt:  now,
			})
		}
		if err := s.repo.InsertLinks(ctx, tx, cardLinks); err != nil {
			return err
		}

		adjID = adj.ID
		return s.recordAudit(ctx, tx, "ratecard.adjust", adj, map[string]any{
			"customer_id": parent.CustomerID.String(),
			"parent_id":   parent.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	return s.respond(ctx, adjID)
}

func (s *Service) Deactivate(ctx context.Context, id string) (*domain.CardResponse, error) {
	cardID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || cardID == 0 {
		return nil, domain.ErrInvalidID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.repo.FindByID(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if card.Archived() {
			return domain.ErrCardArchived
		}

		now := s.clock.Now().UTC()
		card.IsActive = false
		// Manual supersession outside the version flow: close the
		// interval so the card stops matching future activity dates.
		if card.ExpiresDate == nil || card.ExpiresDate.After(now) {
			card.ExpiresDate = &now
		}
		card.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, card); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "ratecard.deactivate", card, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, cardID)
}

func (s *Service) Activate(ctx context.Context, id string) (*domain.CardResponse, error) {
	cardID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || cardID == 0 {
		return nil, domain.ErrInvalidID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.repo.FindByID(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if card.Archived() {
			return domain.ErrCardArchived
		}
		if card.IsActive {
			return nil
		}

		if err := s.lockCustomer(ctx, tx, card.CustomerID); err != nil {
			return err
		}

		if card.CardType == domain.CardTypeStandard {
			blocking, err := s.repo.FindConflictingStandard(ctx, tx, card.CustomerID, card.EffectiveDate, card.EndOrFarFuture(), card.ID)
			if err != nil {
				return err
			}
			if blocking != nil {
				metrics.Billing().IncConflictRejection()
				return domain.NewConflictError(blocking)
			}
		}

		card.IsActive = true
		card.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, card); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "ratecard.activate", card, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, cardID)
}

func (s *Service) Archive(ctx context.Context, req domain.ArchiveRequest) (*domain.CardResponse, error) {
	cardID, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil || cardID == 0 {
		return nil, domain.ErrInvalidID
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.repo.FindByID(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if card.Archived() {
			return domain.ErrCardArchived
		}

		now := s.clock.Now().UTC()
		card.ArchivedAt = &now
		card.ArchivedReason = &reason
		if actorID := actorcontext.ActorIDFromContext(ctx); actorID != "" {
			card.ArchivedBy = &actorID
		}
		card.IsActive = false
		card.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, card); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "ratecard.archive", card, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, cardID)
}

func (s *Service) Restore(ctx context.Context, id string) (*domain.CardResponse, error) {
	cardID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || cardID == 0 {
		return nil, domain.ErrInvalidID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.repo.FindByID(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if !card.Archived() {
			return domain.ErrCardNotArchived
		}

		if err := s.lockCustomer(ctx, tx, card.CustomerID); err != nil {
			return err
		}

		// Restoring is not the mirror of archiving: the interval may
		// have been reassigned while the card sat in the archive, so a
		// restore revalidates against the live timeline.
		switch card.CardType {
		case domain.CardTypeStandard:
			blocking, err := s.repo.FindConflictingStandard(ctx, tx, card.CustomerID, card.EffectiveDate, card.EndOrFarFuture(), card.ID)
			if err != nil {
				return err
			}
			if blocking != nil {
				metrics.Billing().IncConflictRejection()
				return domain.NewConflictError(blocking)
			}
		case domain.CardTypeAdjustment:
			if card.ParentCardID == nil {
				return domain.ErrParentNotFound
			}
			parent, err := s.repo.FindByID(ctx, tx, *card.ParentCardID)
			if err != nil {
				if domain.IsNotFound(err) {
					return domain.ErrParentNotFound
				}
				return err
			}
			if parent.Archived() {
				return domain.ErrParentArchived
			}
		}

		// Restore does not reactivate. Archiving deactivated the card;
		// bringing it back into service is a separate operator decision.
		card.ArchivedAt = nil
		card.ArchivedBy = nil
		card.ArchivedReason = nil
		card.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, card); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, "ratecard.restore", card, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, cardID)
}

func (s *Service) GetActive(ctx context.Context, customerID string) (*domain.CardResponse, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidCustomer
	}

	card, err := s.repo.FindActiveStandard(ctx, s.db, id, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	return card.Response(), nil
}

func (s *Service) GetForDate(ctx context.Context, customerID string, date time.Time) (*domain.CardResponse, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	if date.IsZero() {
		return nil, domain.ErrInvalidEffectiveDate
	}

	covering, err := s.repo.ListCovering(ctx, s.db, id, date.UTC())
	if err != nil {
		return nil, err
	}
	for i := range covering {
		if covering[i].CardType == domain.CardTypeStandard {
			return s.respond(ctx, covering[i].ID)
		}
	}
	return nil, domain.ErrNoCardForDate
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || id == 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidCustomer
	}

	cards, err := s.repo.ListByCustomer(ctx, s.db, id, req.IncludeArchived)
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	resp := domain.HistoryResponse{Cards: make([]domain.CardResponse, 0, len(cards))}
	for i := range cards {
		resp.Cards = append(resp.Cards, *cards[i].Response())
	}
	return resp, nil
}

func (s *Service) lockCustomer(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) error {
	start := time.Now()
	if err := s.repo.LockCustomer(ctx, tx, customerID); err != nil {
		return err
	}
	metrics.Billing().ObserveCustomerLockWait(time.Since(start))
	return nil
}

func (s *Service) verifyContracts(ctx context.Context, customerID snowflake.ID, ids []snowflake.ID) error {
	if err := s.contracts.VerifyOwned(ctx, customerID, ids); err != nil {
		if errors.Is(err, contractdomain.ErrNotOwned) {
			return domain.ErrContractNotFound
		}
		return err
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, tx *gorm.DB, action string, card *domain.RateCard, metadata map[string]any) error {
	targetID := card.ID.String()
	if err := s.audit.Record(ctx, tx, action, "rate_card", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
	return nil
}

func (s *Service) respond(ctx context.Context, id snowflake.ID) (*domain.CardResponse, error) {
	card, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return card.Response(), nil
}

func validateInterval(effective time.Time, expires *time.Time) error {
	if effective.IsZero() {
		return domain.ErrInvalidEffectiveDate
	}
	if expires != nil && !expires.After(effective) {
		return domain.ErrInvalidDateRange
	}
	return nil
}

func normalizeEnd(end *time.Time) *time.Time {
	if end == nil {
		return nil
	}
	utc := end.UTC()
	return &utc
}

func parseContractIDs(raw []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil || id == 0 {
			return nil, domain.ErrContractNotFound
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func buildLinks(genID *snowflake.Node, cardID snowflake.ID, contractIDs []snowflake.ID, linkType domain.LinkType, now time.Time) []domain.ContractLink {
	if linkType == "" {
		linkType = domain.LinkTypePrimary
	}
	links := make([]domain.ContractLink, 0, len(contractIDs))
	for _, contractID := range contractIDs {
		links = append(links, domain.ContractLink{
			ID:         genID.Generate(),
			RateCardID: cardID,
			ContractID: contractID,
			LinkType:   linkType,
			CreatedAt:  now,
		})
	}
	return links
}
