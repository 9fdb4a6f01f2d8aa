package domain

import (
	"context"
	"time"
)

// Service is the version/adjustment manager: every write validates inside
// the same transaction that performs it.
type Service interface {
	CreateStandard(ctx context.Context, req CreateStandardRequest) (*CardResponse, error)
	CreateVersion(ctx context.Context, req CreateVersionRequest) (*CardResponse, error)
	CreateAdjustment(ctx context.Context, req CreateAdjustmentRequest) (*CardResponse, error)
	Activate(ctx context.Context, id string) (*CardResponse, error)
	Deactivate(ctx context.Context, id string) (*CardResponse, error)
	Archive(ctx context.Context, req ArchiveRequest) (*CardResponse, error)
	Restore(ctx context.Context, id string) (*CardResponse, error)

	GetActive(ctx context.Context, customerID string) (*CardResponse, error)
	GetForDate(ctx context.Context, customerID string, date time.Time) (*CardResponse, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}

type CreateStandardRequest struct {
	CustomerID          string       `json:"customer_id"`
	Name                string       `json:"name"`
	EffectiveDate       time.Time    `json:"effective_date"`
	ExpiresDate         *time.Time   `json:"expires_date,omitempty"`
	Schedule            RateSchedule `json:"schedule"`
	MinimumMonthlyCents *int64       `json:"minimum_monthly_cents,omitempty"`
	ContractIDs         []string     `json:"contract_ids"`
	LinkType            LinkType     `json:"link_type,omitempty"`
}

type CreateVersionRequest struct {
	ParentID      string     `json:"parent_id"`
	Name          string     `json:"name,omitempty"`
	EffectiveDate time.Time  `json:"effective_date"`
	ExpiresDate   *time.Time `json:"expires_date,omitempty"`

	// Schedule sections supplied here override the parent's; omitted
	// sections inherit. MinimumMonthlyCents nil inherits too.
	Schedule            RateSchedule `json:"schedule"`
	MinimumMonthlyCents *int64       `json:"minimum_monthly_cents,omitempty"`

	// Empty inherits the parent's links.
	ContractIDs []string `json:"contract_ids,omitempty"`
	LinkType    LinkType `json:"link_type,omitempty"`
}

type CreateAdjustmentRequest struct {
	ParentID            string       `json:"parent_id"`
	Name                string       `json:"name"`
	EffectiveDate       time.Time    `json:"effective_date"`
	ExpiresDate         *time.Time   `json:"expires_date,omitempty"`
	Schedule            RateSchedule `json:"schedule"`
	MinimumMonthlyCents *int64       `json:"minimum_monthly_cents,omitempty"`
	ContractIDs         []string     `json:"contract_ids,omitempty"`
	LinkType            LinkType     `json:"link_type,omitempty"`
}

type ArchiveRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type HistoryRequest struct {
	CustomerID      string `form:"customer_id"`
	IncludeArchived bool   `form:"include_archived"`
}

type HistoryResponse struct {
	Cards []CardResponse `json:"cards"`
}

type ContractLinkResponse struct {
	ContractID string   `json:"contract_id"`
	LinkType   LinkType `json:"link_type"`
}

// Response maps a stored card to its API shape. Snowflake IDs are
// rendered as strings so javascript clients keep precision.
func (c *RateCard) Response() *CardResponse {
	resp := &CardResponse{
		ID:                  c.ID.String(),
		CustomerID:          c.CustomerID.String(),
		Name:                c.Name,
		CardType:            c.CardType,
		Version:             c.Version,
		EffectiveDate:       c.EffectiveDate,
		ExpiresDate:         c.ExpiresDate,
		IsActive:            c.IsActive,
		Schedule:            c.Schedule,
		MinimumMonthlyCents: c.MinimumMonthlyCents,
		ArchivedAt:          c.ArchivedAt,
		ArchivedBy:          c.ArchivedBy,
		ArchivedReason:      c.ArchivedReason,
		CreatedBy:           c.CreatedBy,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	if c.ParentCardID != nil {
		s := c.ParentCardID.String()
		resp.ParentCardID = &s
	}
	if c.SupersedesID != nil {
		s := c.SupersedesID.String()
		resp.SupersedesID = &s
	}
	for _, link := range c.ContractLinks {
		resp.ContractLinks = append(resp.ContractLinks, ContractLinkResponse{
			ContractID: link.ContractID.String(),
			LinkType:   link.LinkType,
		})
	}
	return resp
}

type CardResponse struct {
	ID                  string                 `json:"id"`
	CustomerID          string                 `json:"customer_id"`
	Name                string                 `json:"name"`
	CardType            CardType               `json:"card_type"`
	Version             int                    `json:"version"`
	EffectiveDate       time.Time              `json:"effective_date"`
	ExpiresDate         *time.Time             `json:"expires_date,omitempty"`
	IsActive            bool                   `json:"is_active"`
	ParentCardID        *string                `json:"parent_card_id,omitempty"`
	SupersedesID        *string                `json:"supersedes_id,omitempty"`
	Schedule            RateSchedule           `json:"schedule"`
	MinimumMonthlyCents *int64                 `json:"minimum_monthly_cents,omitempty"`
	ArchivedAt          *time.Time             `json:"archived_at,omitempty"`
	ArchivedBy          *string                `json:"archived_by,omitempty"`
	ArchivedReason      *string                `json:"archived_reason,omitempty"`
	ContractLinks       []ContractLinkResponse `json:"contract_links"`
	CreatedBy           string                 `json:"created_by,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}
