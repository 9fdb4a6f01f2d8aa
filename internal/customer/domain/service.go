package domain

import (
	"context"
	"errors"

	"github.com/warebill/warebill/pkg/db/pagination"
)

type ListCustomerRequest struct {
	pagination.Pagination
	Name   string `form:"name"`
	Code   string `form:"code"`
	Status string `form:"status"`
}

type ListCustomerFilter struct {
	Name   string
	Code   string
	Status string
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Email string `json:"email"`
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(ctx context.Context, id string) (Customer, error)
	Deactivate(ctx context.Context, id string) (Customer, error)
}

var (
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidCode      = errors.New("invalid_code")
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrInvalidID        = errors.New("invalid_id")
	ErrDuplicateCode    = errors.New("duplicate_code")
	ErrNotFound         = errors.New("not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
