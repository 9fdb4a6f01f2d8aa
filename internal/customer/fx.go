package customer

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/customer/repository"
	"github.com/warebill/warebill/internal/customer/service"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
