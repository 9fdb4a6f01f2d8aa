package invoice

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/invoice/repository"
	"github.com/warebill/warebill/internal/invoice/service"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
