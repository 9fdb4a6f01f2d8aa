// Package seed bootstraps a demo customer for local development so the
// API is exercisable immediately after first start.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	contractdomain "github.com/warebill/warebill/internal/contract/domain"
	customerdomain "github.com/warebill/warebill/internal/customer/domain"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

const (
	demoCustomerName = "Acme Outfitters"
	demoCustomerCode = "ACME"
	demoContractName = "Acme 3PL services 2025"
)

// EnsureDemoCustomer seeds one customer with an active contract and a
// baseline rate card. Idempotent: an existing demo customer short-circuits.
func EnsureDemoCustomer(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing customerdomain.Customer
		err := tx.Where("code = ?", demoCustomerCode).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		customer := customerdomain.Customer{
			ID:        node.Generate(),
			Name:      demoCustomerName,
			Code:      demoCustomerCode,
			Email:     "billing@acme.example",
			Status:    customerdomain.CustomerStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}

		contract := contractdomain.Contract{
			ID:         node.Generate(),
			CustomerID: customer.ID,
			Name:       demoContractName,
			Status:     contractdomain.ContractStatusActive,
			StartDate:  time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&contract).Error; err != nil {
			return err
		}

		card := ratecarddomain.RateCard{
			ID:            node.Generate(),
			CustomerID:    customer.ID,
			Name:          "Baseline rates",
			CardType:      ratecarddomain.CardTypeStandard,
			Version:       1,
			EffectiveDate: contract.StartDate,
			IsActive:      true,
			Schedule: ratecarddomain.RateSchedule{
				Services: map[ratecarddomain.ServiceType]ratecarddomain.ServiceRates{
					ratecarddomain.ServiceStorage:     {"pallet_monthly": 2500},
					ratecarddomain.ServiceReceiving:   {"per_pallet": 500},
					ratecarddomain.ServiceFulfillment: {"per_order": 150, "per_line": 25},
					ratecarddomain.ServiceReturns:     {"per_return": 200},
				},
				Zones: []ratecarddomain.ZoneRate{
					{MinZone: 1, MaxZone: intp(4), RateCents: 800},
					{MinZone: 5, MaxZone: intp(8), RateCents: 1200},
				},
				VAS: map[string]int64{"kitting": 300, "labeling": 50},
			},
			CreatedBy: "seed",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&card).Error; err != nil {
			return err
		}

		link := ratecarddomain.ContractLink{
			ID:         node.Generate(),
			RateCardID: card.ID,
			ContractID: contract.ID,
			LinkType:   ratecarddomain.LinkTypePrimary,
			CreatedAt:  now,
		}
		return tx.Create(&link).Error
	})
}

func intp(v int) *int { return &v }
