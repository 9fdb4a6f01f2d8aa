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

	"github.com/warebill/warebill/internal/contract/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("contract.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateContractRequest) (domain.Contract, error) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.Contract{}, domain.ErrInvalidCustomer
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Contract{}, domain.ErrInvalidName
	}

	if req.StartDate.IsZero() {
		return domain.Contract{}, domain.ErrInvalidDateRange
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return domain.Contract{}, domain.ErrInvalidDateRange
	}

	now := time.Now().UTC()
	contract := domain.Contract{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Name:       name,
		Status:     domain.ContractStatusDraft,
		StartDate:  req.StartDate.UTC(),
		EndDate:    req.EndDate,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, s.db, &contract); err != nil {
		return domain.Contract{}, err
	}
	return contract, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Contract, error) {
	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || contractID == 0 {
		return domain.Contract{}, domain.ErrInvalidID
	}

	contract, err := s.repo.FindByID(ctx, s.db, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if contract == nil {
		return domain.Contract{}, domain.ErrNotFound
	}
	return *contract, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]domain.Contract, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	return s.repo.ListByCustomer(ctx, s.db, id)
}

func (s *Service) Activate(ctx context.Context, id string) (domain.Contract, error) {
	return s.transition(ctx, id, domain.ContractStatusActive)
}

func (s *Service) Terminate(ctx context.Context, id string) (domain.Contract, error) {
	return s.transition(ctx, id, domain.ContractStatusTerminated)
}

func (s *Service) transition(ctx context.Context, id string, status domain.ContractStatus) (domain.Contract, error) {
	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || contractID == 0 {
		return domain.Contract{}, domain.ErrInvalidID
	}

	contract, err := s.repo.FindByID(ctx, s.db, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if contract == nil {
		return domain.Contract{}, domain.ErrNotFound
	}

	if contract.Status == domain.ContractStatusTerminated {
		return domain.Contract{}, domain.ErrTerminated
	}
	if contract.Status == status {
		return domain.Contract{}, domain.ErrAlreadyActive
	}

	contract.Status = status
	contract.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, contract); err != nil {
		return domain.Contract{}, err
	}
	return *contract, nil
}

func (s *Service) VerifyOwned(ctx context.Context, customerID snowflake.ID, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}

	// Dedup before counting so a repeated id cannot mask a missing one.
	unique := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	count, err := s.repo.CountOwned(ctx, s.db, customerID, unique)
	if err != nil {
		return err
	}
	if count != int64(len(unique)) {
		return domain.ErrNotOwned
	}
	return nil
}
