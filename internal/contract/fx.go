package contract

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/contract/repository"
	"github.com/warebill/warebill/internal/contract/service"
)

var Module = fx.Module("contract.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
